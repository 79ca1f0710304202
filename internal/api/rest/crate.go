package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/manager"
	"github.com/KevinKickass/CrateManager/internal/types"
)

const defaultTransitionLimit = 50

// GET /api/v1/crate/status
func (s *Server) getCrateStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Crate().Status())
}

// POST /api/v1/crate/command
func (s *Server) executeCrateCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCrateBadRequest, "Invalid request body", err.Error()))
		return
	}

	cmd, err := manager.ParseCommand(req.Command)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCrateBadRequest, "Unknown command", gin.H{
			"command":  req.Command,
			"commands": manager.Commands,
		}))
		return
	}

	ctrl := s.lm.Crate()
	if err := ctrl.ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.logger.Error("Crate command failed",
			zap.String("command", req.Command),
			zap.Error(err))
		status, body := commandError(err)
		c.JSON(status, body)
		return
	}

	st := ctrl.Status()
	c.JSON(http.StatusOK, gin.H{
		"message": "Command executed",
		"command": cmd,
		"state":   st.State,
		"report":  st.LastReport,
	})
}

// commandError maps a lifecycle failure to an HTTP status and payload.
func commandError(err error) (int, interface{}) {
	details := gin.H{"error": err.Error()}
	var te *manager.TransitionError
	if errors.As(err, &te) {
		details["command"] = te.Command
		details["from"] = te.From
		if te.Slot > 0 {
			details["slot"] = te.Slot
		}
	}

	switch {
	case errors.Is(err, manager.ErrInvalidTransition):
		return http.StatusConflict, types.NewErrorResponse(types.CodeCrateConflict, "Command not allowed in current state", details)
	case errors.Is(err, manager.ErrScanParameterOverflow):
		return http.StatusConflict, types.NewErrorResponse(types.CodeCrateConflict, "Scan parameter out of range", details)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeCrateUnavailable, "Command interrupted", details)
	default:
		return http.StatusBadGateway, types.NewErrorResponse(types.CodeCrateSlotFailure, "Transition failed", details)
	}
}

// GET /api/v1/crate/defaults
func (s *Server) getDefaults(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Crate().Defaults())
}

// PUT /api/v1/crate/defaults
func (s *Server) loadDefaults(c *gin.Context) {
	var req manager.Defaults
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCrateBadRequest, "Invalid request body", err.Error()))
		return
	}

	if err := req.Crate.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCrateBadRequest, "Invalid crate configuration", err.Error()))
		return
	}

	if err := s.lm.Crate().LoadDefaults(c.Request.Context(), req); err != nil {
		if errors.Is(err, manager.ErrInvalidTransition) || errors.Is(err, manager.ErrSlotsBound) {
			c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeCrateConflict, "Defaults cannot be replaced now", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCrateBadRequest, "Invalid defaults", err.Error()))
		return
	}

	s.logger.Info("Crate defaults loaded",
		zap.String("amc_slots", req.Crate.AMCSlots),
		zap.String("scan_type", req.Scan.Type))

	c.JSON(http.StatusOK, s.lm.Crate().Status())
}

// GET /api/v1/crate/transitions?limit=N
func (s *Server) listTransitions(c *gin.Context) {
	log := s.lm.Transitions()
	if log == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeCrateUnavailable, "Transition log not configured", nil))
		return
	}

	limit := defaultTransitionLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeCrateBadRequest, "Invalid limit", v))
			return
		}
		limit = n
	}

	records, err := log.ListTransitions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeCrateInternal, "Failed to list transitions", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transitions": records,
		"count":       len(records),
	})
}
