package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/vision-guide/internal/analysis"
	"github.com/eleven-am/vision-guide/internal/narration"
	"github.com/eleven-am/vision-guide/internal/scheduler"
	"github.com/eleven-am/vision-guide/internal/shared"
	"github.com/eleven-am/vision-guide/internal/vision"
)

// Session is the capture loop as the control API drives it.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Trigger(ctx context.Context) (analysis.Result, error)
	Status() scheduler.Status
}

type AnalyzerStats interface {
	Stats() vision.AnalyzerStats
}

type Narration interface {
	narration.Narrator
	Last() (narration.Line, bool)
	Pending() int
}

type StatusResponse struct {
	Session          scheduler.Status     `json:"session"`
	Analyzer         vision.AnalyzerStats `json:"analyzer"`
	LastNarration    *narration.Line      `json:"lastNarration,omitempty"`
	PendingNarration int                  `json:"pendingNarration"`
}

type AnalyzeResponse struct {
	Result analysis.Result `json:"result"`
}

type SayRequest struct {
	Text     string `json:"text"`
	Priority string `json:"priority,omitempty"`
}

// Handler exposes start, stop, manual analysis and status of the client daemon. The
// capture loop it starts is bound to the handler's own context, not to the request.
type Handler struct {
	session   Session
	analyzer  AnalyzerStats
	narration Narration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHandler(session Session, analyzer AnalyzerStats, narr Narration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		session:   session,
		analyzer:  analyzer,
		narration: narr,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	s := g.Group("/session")
	s.POST("/start", h.Start)
	s.POST("/stop", h.Stop)
	s.POST("/analyze", h.Analyze)
	s.GET("/status", h.Status)

	g.POST("/narration/say", h.Say)
}

func (h *Handler) Start(c echo.Context) error {
	if err := h.session.Start(h.ctx); err != nil {
		return sessionError(err)
	}
	h.logger.Info("capture session started", "remote", c.RealIP())
	return c.JSON(http.StatusAccepted, h.session.Status())
}

func (h *Handler) Stop(c echo.Context) error {
	h.session.Stop()
	h.logger.Info("capture session stopped", "remote", c.RealIP())
	return c.JSON(http.StatusOK, h.session.Status())
}

// Analyze runs one analysis now, the equivalent of asking "what is in front of me".
func (h *Handler) Analyze(c echo.Context) error {
	result, err := h.session.Trigger(c.Request().Context())
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, AnalyzeResponse{Result: result})
}

func (h *Handler) Status(c echo.Context) error {
	resp := StatusResponse{Session: h.session.Status()}
	if h.analyzer != nil {
		resp.Analyzer = h.analyzer.Stats()
	}
	if h.narration != nil {
		if line, ok := h.narration.Last(); ok {
			resp.LastNarration = &line
		}
		resp.PendingNarration = h.narration.Pending()
	}
	return c.JSON(http.StatusOK, resp)
}

// Say queues an arbitrary line, mostly useful to check that a listener is connected.
func (h *Handler) Say(c echo.Context) error {
	var req SayRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "request body must be JSON with a text field")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return shared.BadRequest("missing_text", "text is required")
	}
	priority, err := narration.ParsePriority(req.Priority)
	if err != nil {
		return shared.BadRequest("invalid_priority", err.Error())
	}
	if h.narration == nil {
		return shared.ServiceUnavailable("narration_unavailable", "narration is not configured")
	}
	h.narration.Narrate(text, priority)
	return c.NoContent(http.StatusAccepted)
}

// Close stops any loop started through the API.
func (h *Handler) Close() {
	h.cancel()
	h.session.Stop()
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return shared.Conflict("session_running", err.Error())
	case errors.Is(err, scheduler.ErrNotRunning):
		return shared.Conflict("session_not_running", err.Error())
	case errors.Is(err, scheduler.ErrBusy):
		return shared.Conflict("analysis_in_flight", err.Error())
	case errors.Is(err, vision.ErrDeactivated):
		return shared.Conflict("session_stopped", err.Error())
	case errors.Is(err, vision.ErrNoFrame):
		return shared.ServiceUnavailable("no_frame", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return shared.ServiceUnavailable("analysis_timeout", err.Error())
	default:
		return shared.InternalError("analysis_failed", err.Error())
	}
}
