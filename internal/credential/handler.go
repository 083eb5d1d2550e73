package credential

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agent-payments/internal/mandate"
	"agent-payments/internal/middleware"
	"agent-payments/pkg/apperror"
	"agent-payments/pkg/response"
)

// Handler exposes the credential provider over HTTP.
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
	r.POST("/verify", h.Verify)
	r.POST("/enroll-method", h.EnrollMethod)
	r.POST("/register-passkey", h.RegisterPasskey)
	r.POST("/complete-registration", h.CompleteRegistration)
	r.POST("/receipt", h.Receipt)
	r.GET("/users/:id/payment-method", h.PaymentMethod)
	r.GET("/users/:id/receipts", h.Receipts)

	return r
}

type verifyRequest struct {
	Token            string         `json:"token" binding:"required"`
	PaymentMandateID string         `json:"payment_mandate_id" binding:"required"`
	Amount           mandate.Amount `json:"amount"`
}

// Verify handles POST /verify.
func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation("token and payment_mandate_id are required"))
		return
	}
	res, err := h.svc.Verify(c.Request.Context(), req.Token, req.PaymentMandateID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

type enrollRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	CardBrand string `json:"card_brand" binding:"required"`
}

// EnrollMethod handles POST /enroll-method: tokenizes a card reference
// for the user. Only the brand crosses the wire, never a PAN.
func (h *Handler) EnrollMethod(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation("user_id and card_brand are required"))
		return
	}
	response.Created(c, h.svc.EnrollMethod(req.UserID, req.CardBrand))
}

type registerRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// RegisterPasskey handles POST /register-passkey.
func (h *Handler) RegisterPasskey(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrMissingField("user_id"))
		return
	}
	challenge, err := h.svc.BeginRegistration(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"challenge": challenge, "ttl_seconds": 60})
}

type completeRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	Challenge    string `json:"challenge" binding:"required"`
	CredentialID string `json:"credential_id"`
	COSEKey      string `json:"cose_key" binding:"required"`
	SignCount    uint32 `json:"sign_count"`
}

// CompleteRegistration handles POST /complete-registration.
func (h *Handler) CompleteRegistration(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation("user_id, challenge and cose_key are required"))
		return
	}
	pk, err := h.svc.CompleteRegistration(c.Request.Context(), CompleteRegistrationInput{
		UserID:       req.UserID,
		Challenge:    req.Challenge,
		CredentialID: req.CredentialID,
		COSEKey:      req.COSEKey,
		SignCount:    req.SignCount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, pk)
}

// Receipt handles POST /receipt.
func (h *Handler) Receipt(c *gin.Context) {
	var r Receipt
	if err := c.ShouldBindJSON(&r); err != nil {
		response.Error(c, apperror.Validation("malformed receipt"))
		return
	}
	stored, err := h.svc.StoreReceipt(r)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, stored)
}

// PaymentMethod handles GET /users/:id/payment-method.
func (h *Handler) PaymentMethod(c *gin.Context) {
	method, passkey, err := h.svc.MethodForUser(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"payment_method": method, "passkey": passkey})
}

// Receipts handles GET /users/:id/receipts.
func (h *Handler) Receipts(c *gin.Context) {
	response.OK(c, gin.H{"receipts": h.svc.ReceiptsForUser(c.Param("id"))})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "credential-provider"})
}
