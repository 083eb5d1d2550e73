package network

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agent-payments/internal/mandate"
	"agent-payments/internal/middleware"
	"agent-payments/pkg/apperror"
	"agent-payments/pkg/response"
)

// Handler exposes the network over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Router builds the gin engine.
func Router(h *Handler, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", h.Health)
	r.GET("/network/info", h.Info)
	r.POST("/network/tokenize", h.Tokenize)
	r.POST("/network/verify-token", h.VerifyToken)
	r.POST("/network/charge", h.Charge)

	return r
}

type tokenizeRequest struct {
	MandateID string         `json:"mandate_id" binding:"required"`
	PayerID   string         `json:"payer_id" binding:"required"`
	Amount    mandate.Amount `json:"amount"`
}

// Tokenize handles POST /network/tokenize.
func (h *Handler) Tokenize(c *gin.Context) {
	var req tokenizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation("mandate_id and payer_id are required"))
		return
	}
	res, err := h.svc.Tokenize(c.Request.Context(), req.MandateID, req.PayerID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type tokenRequest struct {
	AgentToken string `json:"agent_token" binding:"required"`
}

// VerifyToken handles POST /network/verify-token.
func (h *Handler) VerifyToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrMissingField("agent_token"))
		return
	}
	res, err := h.svc.VerifyToken(c.Request.Context(), req.AgentToken)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type chargeRequest struct {
	AgentToken string         `json:"agent_token" binding:"required"`
	Amount     mandate.Amount `json:"amount"`
}

// Charge handles POST /network/charge. A declined charge is a 200 with
// status "failed"; only transport and store faults surface as errors.
func (h *Handler) Charge(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrMissingField("agent_token"))
		return
	}
	res, err := h.svc.Charge(c.Request.Context(), req.AgentToken, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Info handles GET /network/info.
func (h *Handler) Info(c *gin.Context) {
	response.OK(c, gin.H{
		"network":           h.svc.Name(),
		"token_ttl_seconds": 3600,
		"supported_methods": []string{"basic-card"},
	})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-network"})
}
