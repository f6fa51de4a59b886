package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rentledger/rentledger/internal/lease/model"
	"go.uber.org/zap"
)

var statusByCode = map[string]int{
	model.CodeInvalidArgument:  http.StatusBadRequest,
	model.CodeNotFound:         http.StatusNotFound,
	model.CodeUnauthorized:     http.StatusForbidden,
	model.CodeInvalidState:     http.StatusConflict,
	model.CodeAgreementExpired: http.StatusConflict,
	model.CodeAlreadyPaid:      http.StatusConflict,
	model.CodeTransferFailed:   http.StatusBadGateway,
}

// StatusFor maps a ledger error to its HTTP status.
func StatusFor(err error) int {
	if s, ok := statusByCode[model.Code(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError writes the {"error","code"} body for err. Internal errors are
// logged and their message is not exposed.
func writeError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	code := model.Code(err)
	if code == model.CodeInternal {
		logger.Error(msg, zap.Error(err))
		abortWithCode(c, http.StatusInternalServerError, code, msg)
		return
	}
	abortWithCode(c, StatusFor(err), code, err.Error())
}

func badRequest(c *gin.Context, msg string) {
	abortWithCode(c, http.StatusBadRequest, model.CodeInvalidArgument, msg)
}

// abortWithCode writes the {"error","code"} body shared by every failed
// request and stops the handler chain.
func abortWithCode(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
