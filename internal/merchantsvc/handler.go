package merchantsvc

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agent-payments/internal/did"
	"agent-payments/internal/mandate"
	"agent-payments/internal/middleware"
	"agent-payments/pkg/apperror"
	"agent-payments/pkg/response"
)

// Handler exposes the signing service over HTTP.
type Handler struct {
	svc *Service
	doc *did.Document
}

// NewHandler creates the HTTP handler. doc is the service's own DID
// document, served at /.well-known/did.json.
func NewHandler(svc *Service, doc *did.Document) *Handler {
	return &Handler{svc: svc, doc: doc}
}

// Router builds the gin engine with the shared middleware stack.
func Router(h *Handler, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", h.Health)
	r.GET("/.well-known/did.json", h.DIDDocument)

	r.POST("/sign/cart", h.SignCart)
	r.POST("/poll/cart", h.PollCart)

	r.GET("/pending", h.Pending)
	r.POST("/approve/:id", h.Approve)
	r.POST("/reject/:id", h.Reject)
	// Older operator tooling addressed the queue entries directly.
	r.POST("/pending/:id/approve", h.Approve)
	r.POST("/pending/:id/reject", h.Reject)

	return r
}

type signCartRequest struct {
	CartMandate *mandate.CartMandate `json:"cart_mandate" binding:"required"`
}

// SignCart handles POST /sign/cart. Auto mode returns the signed cart
// synchronously; manual mode queues and returns 202.
func (h *Handler) SignCart(c *gin.Context) {
	var req signCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrMalformedMandate(err.Error()))
		return
	}

	res, err := h.svc.SignCart(req.CartMandate)
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Status == StatusPending {
		response.Accepted(c, res)
		return
	}
	response.OK(c, res)
}

type pollCartRequest struct {
	CartMandateID string `json:"cart_mandate_id" binding:"required"`
}

// PollCart handles POST /poll/cart.
func (h *Handler) PollCart(c *gin.Context) {
	var req pollCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrMissingField("cart_mandate_id"))
		return
	}

	res, err := h.svc.Poll(req.CartMandateID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Pending handles GET /pending for operators.
func (h *Handler) Pending(c *gin.Context) {
	response.OK(c, gin.H{"pending": h.svc.Pending()})
}

// Approve handles POST /approve/:id.
func (h *Handler) Approve(c *gin.Context) {
	res, err := h.svc.Approve(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /reject/:id.
func (h *Handler) Reject(c *gin.Context) {
	var req rejectRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "rejected by operator"
	}

	res, err := h.svc.Reject(c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "merchant-service"})
}

// DIDDocument serves the service's DID document.
func (h *Handler) DIDDocument(c *gin.Context) {
	c.JSON(http.StatusOK, h.doc)
}
