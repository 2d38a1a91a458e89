package gateway

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/vision-guide/internal/metrics"
	"github.com/eleven-am/vision-guide/internal/shared"
)

const (
	HeaderClientID  = "X-Client-ID"
	unknownClientID = "unknown-client"
)

// AnalyzeRequest carries one frame, either as base64 bytes in image or as a data URL in
// imageData.
type AnalyzeRequest struct {
	Image     []byte `json:"image,omitempty"`
	ImageData string `json:"imageData,omitempty"`
}

type Handler struct {
	gateway *Gateway
	metrics *metrics.Gateway
	logger  *slog.Logger
}

func NewHandler(gateway *Gateway, m *metrics.Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gateway: gateway,
		metrics: m,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/analyze", h.Analyze)
}

// Analyze answers with 200 and an envelope for every well-formed request. Only a body
// that cannot yield image bytes is rejected.
func (h *Handler) Analyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		h.metrics.Observe(metrics.OutcomeInvalid)
		return shared.BadRequest("invalid_request", "request body must be JSON with an image field")
	}

	payload, err := req.payload()
	if err != nil {
		h.metrics.Observe(metrics.OutcomeInvalid)
		return err
	}

	env := h.gateway.Analyze(c.Request().Context(), ClientID(c), payload)
	return c.JSON(http.StatusOK, env)
}

func (r AnalyzeRequest) payload() ([]byte, error) {
	if len(r.Image) > 0 {
		return r.Image, nil
	}
	if r.ImageData == "" {
		return nil, shared.BadRequest("missing_image", "image or imageData is required")
	}
	data, err := DecodeDataURL(r.ImageData)
	if err != nil {
		return nil, shared.BadRequest("invalid_image", err.Error())
	}
	return data, nil
}

// DecodeDataURL accepts "data:<mime>;base64,<payload>" or bare base64.
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		meta, encoded, ok := strings.Cut(s, ",")
		if !ok {
			return nil, shared.ErrInvalidDataURL
		}
		if !strings.HasSuffix(meta, ";base64") {
			return nil, shared.ErrInvalidDataURL
		}
		s = encoded
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, shared.ErrInvalidDataURL
	}
	if len(data) == 0 {
		return nil, shared.ErrInvalidDataURL
	}
	return data, nil
}

// ClientID identifies the caller for rate limiting: the explicit header first, then the
// proxy-aware remote address.
func ClientID(c echo.Context) string {
	if id := strings.TrimSpace(c.Request().Header.Get(HeaderClientID)); id != "" {
		return id
	}
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return unknownClientID
}
