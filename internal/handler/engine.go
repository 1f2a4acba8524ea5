package handler

import (
	"errors"
	"net/http"

	"github.com/boxsignal/repricer/internal/pkg/apperrors"
	"github.com/boxsignal/repricer/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// EngineHandler exposes manual control over the repricing engine.
type EngineHandler struct {
	sched *scheduler.Scheduler
}

func NewEngineHandler(sched *scheduler.Scheduler) *EngineHandler {
	return &EngineHandler{sched: sched}
}

// TriggerTick runs one tick synchronously. A tick already in flight yields
// 409 rather than a second concurrent run.
func (h *EngineHandler) TriggerTick(c *gin.Context) {
	stats, err := h.sched.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrTickInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "tick already in progress"})
			return
		}
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

// LastTick returns the most recent tick summary, 404 before the first run.
func (h *EngineHandler) LastTick(c *gin.Context) {
	stats := h.sched.LastStats()
	if stats == nil {
		c.Error(apperrors.New(apperrors.ErrNotFound, "no tick has run yet", nil))
		return
	}
	c.JSON(http.StatusOK, stats)
}
