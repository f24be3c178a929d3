package notify

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"

	gobot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trendrider/logging"
	"trendrider/models"
)

const telegramQueueSize = 64

// sender is the part of the bot API used to deliver messages.
type sender interface {
	Send(c gobot.Chattable) (gobot.Message, error)
}

// Telegram posts events to one chat from a background worker. Events are
// dropped when the queue is full.
type Telegram struct {
	bot    sender
	chatID int64
	logger logging.LoggerInterface

	queue chan string
	once  sync.Once
	done  chan struct{}
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64, logger logging.LoggerInterface) (*Telegram, error) {
	bot, err := gobot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	bot.Debug = false
	if logger != nil {
		logger.Info("Telegram connected as @%s", bot.Self.UserName)
	}
	return newTelegram(bot, chatID, logger), nil
}

func newTelegram(bot sender, chatID int64, logger logging.LoggerInterface) *Telegram {
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger,
		queue:  make(chan string, telegramQueueSize),
		done:   make(chan struct{}),
	}
}

// Run delivers queued messages until ctx is done, then drains what is left.
func (t *Telegram) Run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case text := <-t.queue:
					t.send(text)
				default:
					return
				}
			}
		case text := <-t.queue:
			t.send(text)
		}
	}
}

// Wait blocks until Run has returned.
func (t *Telegram) Wait() {
	<-t.done
}

func (t *Telegram) send(text string) {
	msg := gobot.NewMessage(t.chatID, text)
	msg.ParseMode = gobot.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil && t.logger != nil {
		t.logger.Error("send tg msg: %v", err)
	}
}

// Notify queues a message for event.
func (t *Telegram) Notify(event models.Event, details map[string]any) {
	select {
	case t.queue <- FormatHTML(event, details):
	default:
		t.once.Do(func() {
			if t.logger != nil {
				t.logger.Warning("Telegram queue full; dropping events")
			}
		})
	}
}

var eventTitles = map[models.Event]string{
	models.EventStarted:        "🚀 Trader started",
	models.EventStopped:        "🛑 Trader stopped",
	models.EventEntryFilled:    "✅ Trade executed",
	models.EventEntryFailed:    "⚠️ Entry failed",
	models.EventStopMoved:      "📈 Stop moved",
	models.EventPositionClosed: "💰 Position closed",
	models.EventResumed:        "🔄 Position resumed",
	models.EventInconsistency:  "🚨 State inconsistency",
	models.EventRiskAlert:      "⚠️ Risk alert",
	models.EventError:          "❌ Error",
}

// FormatHTML renders an event as a Telegram HTML message.
func FormatHTML(event models.Event, details map[string]any) string {
	title, ok := eventTitles[event]
	if !ok {
		title = string(event)
	}
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>")

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: <code>%s</code>", html.EscapeString(k), html.EscapeString(formatValue(details[k])))
	}
	return b.String()
}
