package broker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/proxyhifi-dev/Bot/pkg/response"
)

func init() {
	response.RegisterError(ErrBreakerOpen, http.StatusServiceUnavailable, "BROKER_UNAVAILABLE")
	response.RegisterError(ErrRequestRejected, http.StatusBadGateway, "BROKER_REJECTED")
	response.RegisterError(ErrRequestFailed, http.StatusBadGateway, "BROKER_FAILED")
	response.RegisterError(ErrDuplicateOrder, http.StatusConflict, response.ErrCodeDuplicateResource)
	response.RegisterError(ErrAuthCooldown, http.StatusTooManyRequests, response.ErrCodeRateLimited)
	response.RegisterError(ErrAuthInvalid, http.StatusUnauthorized, response.ErrCodeUnauthorized)
	response.RegisterError(ErrEmptyAuthCode, http.StatusBadRequest, response.ErrCodeValidationFailed)
	response.RegisterError(types.ErrInvalidOrder, http.StatusBadRequest, response.ErrCodeValidationFailed)
}

// GinHandlers contains HTTP handlers for broker authentication endpoints
type GinHandlers struct {
	gateway *Gateway
}

func NewGinHandlers(gateway *Gateway) *GinHandlers {
	return &GinHandlers{gateway: gateway}
}

type exchangeRequest struct {
	AuthCode string `json:"auth_code" binding:"required"`
}

// StatusHandler reports whether the stored access token is currently valid
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.gateway.TokenStatus(c.Request.Context())
		response.Success(c, gin.H{
			"authenticated": status.Valid,
			"token":         status,
			"breaker":       h.gateway.Breaker().State().String(),
		})
	}
}

// LoginURLHandler returns the URL an operator opens to log in with the broker
func (h *GinHandlers) LoginURLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"login_url": h.gateway.LoginURL(c.Query("state"))})
	}
}

// ExchangeHandler exchanges an auth code (or full redirect URL) for an access token
func (h *GinHandlers) ExchangeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exchangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "auth_code is required")
			return
		}

		if err := h.gateway.Login(c.Request.Context(), req.AuthCode); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"authenticated": true})
	}
}
