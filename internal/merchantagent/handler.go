package merchantagent

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"agent-payments/internal/a2a"
	"agent-payments/internal/did"
	"agent-payments/internal/mandate"
	"agent-payments/internal/middleware"
	"agent-payments/pkg/apperror"
	"agent-payments/pkg/response"
)

// Handler exposes the merchant agent over HTTP: the A2A endpoint for the
// shopping agent plus REST endpoints for catalog and inventory.
type Handler struct {
	svc      *Service
	registry *a2a.Registry
	doc      *did.Document
}

// NewHandler wires the A2A registry and ties the intent pipeline to the
// ap2.mandates.IntentMandate part type.
func NewHandler(svc *Service, registry *a2a.Registry, doc *did.Document) *Handler {
	h := &Handler{svc: svc, registry: registry, doc: doc}
	registry.Handle(a2a.TypeIntentMandate, h.onIntentMandate)
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

	r.GET("/search", h.Search)
	r.POST("/create-cart", h.CreateCart)
	r.GET("/inventory", h.Inventory)
	r.POST("/inventory/update", h.UpdateInventory)

	return r
}

// cartCandidatesPayload is the A2A response payload for an intent.
type cartCandidatesPayload struct {
	CartCandidates []Artifact `json:"cart_candidates"`
}

func (h *Handler) onIntentMandate(ctx context.Context, m *a2a.Message) (*a2a.DataPart, error) {
	var im mandate.IntentMandate
	if err := json.Unmarshal(m.DataPart.Payload, &im); err != nil {
		return nil, apperror.ErrMalformedMandate(err.Error())
	}

	artifacts, err := h.svc.HandleIntent(ctx, &im)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cartCandidatesPayload{CartCandidates: artifacts})
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return &a2a.DataPart{Type: a2a.TypeCartCandidates, ID: im.ID, Payload: payload}, nil
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

// Search handles GET /search?query=&category=&limit=.
func (h *Handler) Search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	keywords := h.svc.analyzer.Keywords(c.Query("query"))
	products := h.svc.catalog.Search(keywords, c.Query("category"), limit)
	response.OK(c, gin.H{"products": products})
}

type createCartRequest struct {
	SKUs            []string `json:"skus" binding:"required"`
	IntentMandateID string   `json:"intent_mandate_id"`
}

// CreateCart handles POST /create-cart: builds a cart from the named SKUs
// and requests a signature synchronously.
func (h *Handler) CreateCart(c *gin.Context) {
	var req createCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrMissingField("skus"))
		return
	}

	var products []Product
	for _, p := range h.svc.catalog.Products() {
		for _, sku := range req.SKUs {
			if p.SKU == sku {
				products = append(products, p)
			}
		}
	}
	if len(products) == 0 {
		response.Error(c, apperror.ErrNotFound("sku"))
		return
	}

	plan := CartPlan{Name: "custom", Products: products}
	cm := BuildCartMandate(plan, h.svc.merchantDID, h.svc.merchantName, req.IntentMandateID, h.svc.now())
	res, err := h.svc.signer.SignCart(c.Request.Context(), cm)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Inventory handles GET /inventory.
func (h *Handler) Inventory(c *gin.Context) {
	products := h.svc.catalog.Products()
	skus := make([]string, len(products))
	for i, p := range products {
		skus[i] = p.SKU
	}
	response.OK(c, gin.H{"stock": h.svc.catalog.InStock(skus)})
}

type updateInventoryRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity *int   `json:"quantity" binding:"required"`
}

// UpdateInventory handles POST /inventory/update.
func (h *Handler) UpdateInventory(c *gin.Context) {
	var req updateInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation("sku and quantity are required"))
		return
	}
	if *req.Quantity < 0 {
		response.Error(c, apperror.Validation("quantity must be non-negative"))
		return
	}
	if !h.svc.catalog.SetStock(req.SKU, *req.Quantity) {
		response.Error(c, apperror.ErrNotFound("sku"))
		return
	}
	response.OK(c, gin.H{"sku": req.SKU, "quantity": *req.Quantity})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "merchant-agent"})
}

// DIDDocument serves the agent's DID document.
func (h *Handler) DIDDocument(c *gin.Context) {
	c.JSON(http.StatusOK, h.doc)
}
