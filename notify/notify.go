// Package notify delivers lifecycle events to operators.
package notify

import (
	"fmt"
	"sort"
	"strings"

	"trendrider/logging"
	"trendrider/models"
)

// Notifier receives lifecycle events. Notify must not block.
type Notifier interface {
	Notify(event models.Event, details map[string]any)
}

// Log writes every event to the logger.
type Log struct {
	Logger logging.LoggerInterface
}

// Notify logs event at a level matching its severity.
func (l Log) Notify(event models.Event, details map[string]any) {
	if l.Logger == nil {
		return
	}
	line := fmt.Sprintf("Event %s %s", event, formatDetails(details))
	switch event {
	case models.EventInconsistency, models.EventError:
		l.Logger.Error("%s", line)
	case models.EventEntryFailed, models.EventRiskAlert:
		l.Logger.Warning("%s", line)
	default:
		l.Logger.Info("%s", line)
	}
}

// Fanout forwards each event to every non-nil notifier.
type Fanout []Notifier

// Notify forwards event.
func (f Fanout) Notify(event models.Event, details map[string]any) {
	for _, n := range f {
		if n != nil {
			n.Notify(event, details)
		}
	}
}

// formatDetails renders details as sorted key=value pairs.
func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, formatValue(details[k])))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.4f", x)
	case float32:
		return fmt.Sprintf("%.4f", x)
	default:
		return fmt.Sprint(v)
	}
}
