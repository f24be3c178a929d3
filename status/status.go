package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trendrider/logging"
	"trendrider/models"
	"trendrider/risk"
)

// OutcomeLister reads closed trades for the performance summary.
type OutcomeLister interface {
	ListOutcomes(ctx context.Context, market string, limit int) ([]models.TradeOutcome, error)
}

type statusResponse struct {
	Time        time.Time                 `json:"time"`
	Symbol      string                    `json:"symbol"`
	State       models.PositionState      `json:"state"`
	CycleSeq    uint64                    `json:"cycleSeq"`
	LastCycleAt *time.Time                `json:"lastCycleAt,omitempty"`
	LastError   string                    `json:"lastError,omitempty"`
	Signal      *models.SignalSnapshot    `json:"signal,omitempty"`
	Indicators  *models.IndicatorSnapshot `json:"indicators,omitempty"`
	Position    *models.PositionSnapshot  `json:"position,omitempty"`
}

type performanceResponse struct {
	Symbol      string                `json:"symbol"`
	Performance models.Performance    `json:"performance"`
	Recent      []models.TradeOutcome `json:"recent"`
}

const recentOutcomes = 20

// Server exposes the status board over HTTP.
type Server struct {
	Symbol   string
	State    *models.State
	Outcomes OutcomeLister
	Hub      *Hub
	Logger   logging.LoggerInterface
}

// NewRouter builds the gin engine with /healthz, /status, /performance and
// /ws.
func (s *Server) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", health)
	r.HEAD("/healthz", health)
	r.GET("/status", s.status)
	r.GET("/performance", s.performance)
	if s.Hub != nil {
		r.GET("/ws", gin.WrapH(s.Hub))
	}
	return r
}

func health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	st := s.State
	st.StatusLock.RLock()
	lastSignal := st.LastSignal
	lastIndicators := st.LastIndicators
	lastPosition := st.LastPosition
	state := st.PositionState
	lastError := st.LastError
	lastCycleAt := st.LastCycleAt
	st.StatusLock.RUnlock()

	resp := statusResponse{
		Time:      time.Now(),
		Symbol:    s.Symbol,
		State:     state,
		CycleSeq:  st.CycleSeq.Load(),
		LastError: lastError,
	}
	if resp.State == "" {
		resp.State = models.StateFlat
	}
	if !lastCycleAt.IsZero() {
		resp.LastCycleAt = &lastCycleAt
	}
	if !lastSignal.Time.IsZero() {
		sigCopy := lastSignal
		if len(sigCopy.Contribs) > 0 {
			sigCopy.Contribs = append([]string(nil), sigCopy.Contribs...)
		}
		resp.Signal = &sigCopy
	}
	if !lastIndicators.Time.IsZero() {
		indCopy := lastIndicators
		resp.Indicators = &indCopy
	}
	if lastPosition.ID != "" {
		posCopy := lastPosition
		resp.Position = &posCopy
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) performance(c *gin.Context) {
	if s.Outcomes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no trade store configured"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	outcomes, err := s.Outcomes.ListOutcomes(c.Request.Context(), s.Symbol, limit)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("Failed to list outcomes: %v", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	recent := outcomes
	if len(recent) > recentOutcomes {
		recent = recent[len(recent)-recentOutcomes:]
	}
	c.JSON(http.StatusOK, performanceResponse{
		Symbol:      s.Symbol,
		Performance: risk.Summarize(outcomes),
		Recent:      recent,
	})
}

// Disabled reports whether addr turns the status server off.
func Disabled(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr == "" || strings.EqualFold(addr, "off") || strings.EqualFold(addr, "disabled")
}

// StartServer starts a local HTTP status server for diagnostics. It returns
// nil when addr disables it.
func (s *Server) StartServer(addr string) *http.Server {
	if Disabled(addr) {
		if s.Logger != nil {
			s.Logger.Info("Status server disabled")
		}
		return nil
	}

	server := &http.Server{
		Addr:              strings.TrimSpace(addr),
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if s.Logger != nil {
			s.Logger.Info("Status server listening on %s", server.Addr)
		}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && s.Logger != nil {
			s.Logger.Error("Status server error: %v", err)
		}
	}()

	return server
}
