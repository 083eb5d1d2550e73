package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agent-payments/internal/a2a"
	"agent-payments/internal/did"
	"agent-payments/internal/middleware"
	"agent-payments/pkg/apperror"
	"agent-payments/pkg/response"
)

// Handler exposes the processor over HTTP and A2A.
type Handler struct {
	svc      *Service
	registry *a2a.Registry
	doc      *did.Document
}

// NewHandler wires the A2A registry for ap2.mandates.PaymentMandate.
func NewHandler(svc *Service, registry *a2a.Registry, doc *did.Document) *Handler {
	h := &Handler{svc: svc, registry: registry, doc: doc}
	registry.Handle(a2a.TypePaymentMandate, h.onPaymentMandate)
	return h
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
	r.POST("/a2a/message", h.A2AMessage)

	r.POST("/process", h.Process)
	r.POST("/refund", h.Refund)
	r.GET("/transactions/:id", h.Transaction)
	r.GET("/receipts/:file", h.Receipt)

	return r
}

func (h *Handler) onPaymentMandate(ctx context.Context, m *a2a.Message) (*a2a.DataPart, error) {
	var in ProcessInput
	if err := json.Unmarshal(m.DataPart.Payload, &in); err != nil {
		return nil, apperror.ErrMalformedMandate(err.Error())
	}
	res, err := h.svc.Process(ctx, in)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return &a2a.DataPart{Type: a2a.TypePaymentResult, ID: m.DataPart.ID, Payload: payload}, nil
}

// A2AMessage handles POST /a2a/message.
func (h *Handler) A2AMessage(c *gin.Context) {
	var m a2a.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		response.Error(c, apperror.Validation("malformed a2a message"))
		return
	}
	c.JSON(http.StatusOK, h.registry.Dispatch(c.Request.Context(), &m))
}

// Process handles POST /process.
func (h *Handler) Process(c *gin.Context) {
	var in ProcessInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Error(c, apperror.ErrMalformedMandate(err.Error()))
		return
	}
	res, err := h.svc.Process(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Refund handles POST /refund.
func (h *Handler) Refund(c *gin.Context) {
	var in RefundInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Error(c, apperror.ErrMissingField("transaction_id"))
		return
	}
	tx, err := h.svc.Refund(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tx)
}

// Transaction handles GET /transactions/:id.
func (h *Handler) Transaction(c *gin.Context) {
	tx, err := h.svc.Transaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tx)
}

// Receipt handles GET /receipts/:file where file is <transaction_id>.pdf.
func (h *Handler) Receipt(c *gin.Context) {
	file := c.Param("file")
	id := strings.TrimSuffix(file, ".pdf")
	if id == file || id == "" {
		response.Error(c, apperror.ErrNotFound("receipt"))
		return
	}
	tx, err := h.svc.Transaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", renderPDF(receiptLines(tx)))
}

// Health handles GET /health, pinging the backing stores.
func (h *Handler) Health(c *gin.Context) {
	checks, ok := h.svc.Health(c.Request.Context())
	body := gin.H{"status": "ok", "service": "payment-processor", "checks": checks}
	if !ok {
		body["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// DIDDocument serves the processor's DID document.
func (h *Handler) DIDDocument(c *gin.Context) {
	c.JSON(http.StatusOK, h.doc)
}
