package shoppingagent

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agent-payments/internal/did"
	"agent-payments/internal/middleware"
	"agent-payments/pkg/apperror"
	"agent-payments/pkg/response"
)

// Handler exposes the shopping agent's user-facing REST API.
type Handler struct {
	svc *Service
	doc *did.Document
}

// NewHandler creates the shopping agent handler.
func NewHandler(svc *Service, doc *did.Document) *Handler {
	return &Handler{svc: svc, doc: doc}
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
	r.GET("/.well-known/did.json", h.DIDDocument)

	r.POST("/chat", h.Chat)
	r.GET("/sessions/:id", h.Session)
	r.POST("/sessions/:id/confirm-cart", h.ConfirmCart)
	r.POST("/sessions/:id/authorize-payment", h.AuthorizePayment)

	return r
}

type chatRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// Chat handles POST /chat: starts a session and returns the cart
// candidates collected from the merchant agent.
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation("user_id and message are required"))
		return
	}
	sess, err := h.svc.Chat(c.Request.Context(), req.UserID, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// Session handles GET /sessions/:id.
func (h *Handler) Session(c *gin.Context) {
	sess, err := h.svc.Session(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

type confirmCartRequest struct {
	CartID string `json:"cart_id" binding:"required"`
}

// ConfirmCart handles POST /sessions/:id/confirm-cart.
func (h *Handler) ConfirmCart(c *gin.Context) {
	var req confirmCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrMissingField("cart_id"))
		return
	}
	sess, err := h.svc.ConfirmCart(c.Param("id"), req.CartID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// AuthorizePayment handles POST /sessions/:id/authorize-payment: runs
// the passkey ceremony and submits the payment mandate.
func (h *Handler) AuthorizePayment(c *gin.Context) {
	sess, err := h.svc.AuthorizePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "shopping-agent"})
}

// DIDDocument serves the agent's DID document.
func (h *Handler) DIDDocument(c *gin.Context) {
	c.JSON(http.StatusOK, h.doc)
}
