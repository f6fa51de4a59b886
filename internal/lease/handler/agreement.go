package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rentledger/rentledger/internal/identity"
	"github.com/rentledger/rentledger/internal/lease/model"
	"github.com/rentledger/rentledger/internal/lease/service"
	"go.uber.org/zap"
)

// AgreementHandler handles HTTP requests for rental agreements.
type AgreementHandler struct {
	ledger *service.Ledger
	tokens *identity.TokenIssuer // nil = open mode, caller taken from X-Caller-Address
	logger *zap.Logger
}

// NewAgreementHandler creates a new AgreementHandler.
// tokens may be nil to run without party token enforcement.
func NewAgreementHandler(ledger *service.Ledger, tokens *identity.TokenIssuer, logger *zap.Logger) *AgreementHandler {
	return &AgreementHandler{ledger: ledger, tokens: tokens, logger: logger}
}

// Register mounts the agreement and party routes on the given router group.
func (h *AgreementHandler) Register(rg *gin.RouterGroup) {
	caller := identity.RequireCaller(h.tokens)

	agreements := rg.Group("/agreements")
	{
		agreements.POST("", caller, h.CreateAgreement)
		agreements.GET("/:id", h.GetAgreement)
		agreements.GET("/:id/rent-due", h.IsRentDue)
		agreements.POST("/:id/rent", caller, h.PayRent)
		agreements.POST("/:id/terminate", caller, h.TerminateAgreement)
	}

	parties := rg.Group("/parties/:address")
	{
		parties.GET("/landlord", h.LandlordAgreements)
		parties.GET("/tenant", h.TenantAgreements)
	}
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "agreement id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

// CreateAgreement handles POST /agreements.
func (h *AgreementHandler) CreateAgreement(c *gin.Context) {
	var req model.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.Tenant = model.NormalizeAddress(string(req.Tenant))

	id, err := h.ledger.CreateAgreement(c.Request.Context(), identity.CallerFromCtx(c), req)
	if err != nil {
		writeError(c, h.logger, "failed to create agreement", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// GetAgreement handles GET /agreements/:id.
func (h *AgreementHandler) GetAgreement(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := h.ledger.GetAgreement(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "failed to get agreement", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": a})
}

// PayRent handles POST /agreements/:id/rent.
func (h *AgreementHandler) PayRent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req model.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.ledger.PayRent(c.Request.Context(), id, identity.CallerFromCtx(c), req.Value); err != nil {
		writeError(c, h.logger, "failed to pay rent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "paid": req.Value})
}

// TerminateAgreement handles POST /agreements/:id/terminate. An empty body
// means the deposit is not returned.
func (h *AgreementHandler) TerminateAgreement(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req model.TerminateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	ev, err := h.ledger.TerminateAgreement(c.Request.Context(), id, identity.CallerFromCtx(c), req.ReturnDeposit)
	if err != nil {
		writeError(c, h.logger, "failed to terminate agreement", err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// IsRentDue handles GET /agreements/:id/rent-due.
func (h *AgreementHandler) IsRentDue(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	due, err := h.ledger.IsRentDue(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "failed to check rent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"due": due})
}

// LandlordAgreements handles GET /parties/:address/landlord.
func (h *AgreementHandler) LandlordAgreements(c *gin.Context) {
	ids, err := h.ledger.LandlordAgreements(c.Request.Context(), model.NormalizeAddress(c.Param("address")))
	if err != nil {
		writeError(c, h.logger, "failed to list agreements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreements": ids})
}

// TenantAgreements handles GET /parties/:address/tenant.
func (h *AgreementHandler) TenantAgreements(c *gin.Context) {
	ids, err := h.ledger.TenantAgreements(c.Request.Context(), model.NormalizeAddress(c.Param("address")))
	if err != nil {
		writeError(c, h.logger, "failed to list agreements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreements": ids})
}
