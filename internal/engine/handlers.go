package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/proxyhifi-dev/Bot/internal/mode"
	"github.com/proxyhifi-dev/Bot/pkg/response"
)

const ErrCodeModeSwitchRejected = "MODE_SWITCH_REJECTED"

func init() {
	response.RegisterError(ErrAlreadyRunning, http.StatusConflict, response.ErrCodeDuplicateResource)
}

// GinHandlers exposes the engine over HTTP. baseCtx outlives requests and
// is what loops started through /start run under.
type GinHandlers struct {
	engine  *Engine
	baseCtx context.Context
}

func NewGinHandlers(baseCtx context.Context, engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine, baseCtx: baseCtx}
}

type switchModeRequest struct {
	Mode        string `json:"mode" binding:"required"`
	ConfirmLive bool   `json:"confirm_live"`
}

// SignalHandler returns the latest evaluation without running one
func (h *GinHandlers) SignalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.LatestSignal())
	}
}

// EvaluateHandler runs a cycle on demand when the loops are stopped. A cycle
// may square off or exit the open position.
func (h *GinHandlers) EvaluateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.Signal(c.Request.Context()))
	}
}

// ApproveHandler executes the pending signal
func (h *GinHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.engine.Approve(c.Request.Context())
		response.Handle(c, result, err)
	}
}

func (h *GinHandlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.Reject())
	}
}

// StopHandler halts the background loops without touching positions
func (h *GinHandlers) StopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.EmergencyStop())
	}
}

func (h *GinHandlers) StartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.engine.Start(h.baseCtx)
		response.Handle(c, gin.H{"running": true}, err)
	}
}

func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.Status())
	}
}

func (h *GinHandlers) PnLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.PnL())
	}
}

func (h *GinHandlers) ModeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"mode": h.engine.Mode()})
	}
}

// SwitchModeHandler handles POST /mode/switch. A refused switch is reported
// with its reason and a 409 (400 for an unknown mode).
func (h *GinHandlers) SwitchModeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req switchModeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "mode is required")
			return
		}

		t, err := h.engine.SwitchMode(c.Request.Context(), req.Mode, req.ConfirmLive)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				response.ServiceUnavailable(c, "mode switch cancelled")
				return
			}
			response.Handle(c, nil, err)
			return
		}

		switch {
		case t.Accepted:
			response.Success(c, t)
		case t.Reason == mode.ReasonUnknownMode:
			response.Fail(c, http.StatusBadRequest, response.ErrCodeValidationFailed, t.Reason)
		default:
			response.Fail(c, http.StatusConflict, ErrCodeModeSwitchRejected, t.Reason)
		}
	}
}

func (h *GinHandlers) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"trades": h.engine.Trades()})
	}
}

func (h *GinHandlers) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.Health(c.Request.Context()))
	}
}

// RegisterRoutes mounts the read routes on r and the capital-affecting
// routes on protected.
func (h *GinHandlers) RegisterRoutes(r gin.IRoutes, protected gin.IRoutes) {
	r.GET("/signal", h.SignalHandler())
	r.GET("/status", h.StatusHandler())
	r.GET("/pnl", h.PnLHandler())
	r.GET("/mode", h.ModeHandler())
	r.GET("/trades", h.TradesHandler())
	r.GET("/health", h.HealthHandler())

	protected.POST("/signal/evaluate", h.EvaluateHandler())
	protected.POST("/approve", h.ApproveHandler())
	protected.POST("/reject", h.RejectHandler())
	protected.POST("/stop", h.StopHandler())
	protected.POST("/start", h.StartHandler())
	protected.POST("/mode/switch", h.SwitchModeHandler())
}
