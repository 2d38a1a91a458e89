package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/vision-guide/internal/shared"
)

type Handler struct {
	manager *Manager
	log     *slog.Logger
}

func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		manager: mgr,
		log:     log,
	}
}

type OfferRequest struct {
	SDP string `json:"sdp"`
}

type OfferResponse struct {
	SessionID string `json:"session_id"`
	SDP       string `json:"sdp"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICEServersResponse struct {
	ICEServers []ICEServer `json:"ice_servers"`
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/camera", h.HandleOffer)
	g.DELETE("/camera/:session_id", h.HandleHangup)
	g.GET("/camera/ice-servers", h.HandleICEServers)
}

// HandleOffer accepts a camera's SDP offer and answers with a receive-only session.
func (h *Handler) HandleOffer(c echo.Context) error {
	if c.Request().ContentLength > int64(h.manager.Config().MaxSDPSize) {
		return shared.TooLarge("offer_too_large", "sdp offer exceeds the size limit")
	}

	var req OfferRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "request body must be JSON with an sdp field")
	}
	if strings.TrimSpace(req.SDP) == "" {
		return shared.BadRequest("missing_sdp", "sdp is required")
	}
	if len(req.SDP) > h.manager.Config().MaxSDPSize {
		return shared.TooLarge("offer_too_large", "sdp offer exceeds the size limit")
	}

	answer, peer, err := h.manager.Accept(c.Request().Context(), req.SDP)
	if err != nil {
		if errors.Is(err, ErrNoVideo) {
			return shared.BadRequest("no_video", err.Error())
		}
		h.log.Warn("camera negotiation failed", "error", err)
		return shared.BadRequest("negotiation_failed", err.Error())
	}

	return c.JSON(http.StatusCreated, OfferResponse{
		SessionID: peer.ID,
		SDP:       answer,
	})
}

func (h *Handler) HandleHangup(c echo.Context) error {
	if err := h.manager.Remove(c.Param("session_id")); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return shared.NotFound("session_not_found", err.Error())
		}
		h.log.Warn("camera hangup failed", "error", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleICEServers(c echo.Context) error {
	return c.JSON(http.StatusOK, ICEServersResponse{ICEServers: h.iceServersResponse()})
}

func (h *Handler) iceServersResponse() []ICEServer {
	cfg := h.manager.ICEServers()
	servers := make([]ICEServer, 0, len(cfg))
	for _, s := range cfg {
		servers = append(servers, ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}
