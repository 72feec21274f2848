package handler

import (
	"net/http"

	"github.com/casadock/casadock/internal/scheduler"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AutoUpdateHandler exposes the auto-update scheduler configuration
type AutoUpdateHandler struct {
	sched *scheduler.Scheduler
	db    *gorm.DB
}

// NewAutoUpdateHandler creates a new AutoUpdateHandler
func NewAutoUpdateHandler(sched *scheduler.Scheduler, db *gorm.DB) *AutoUpdateHandler {
	return &AutoUpdateHandler{sched: sched, db: db}
}

// GetConfig returns the scheduler configuration and current state
func (h *AutoUpdateHandler) GetConfig(c *gin.Context) {
	cfg, err := h.sched.Config()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": cfg.Enabled,
		"preset":  cfg.Preset,
		"exclude": cfg.Exclude,
		"state":   h.sched.State(),
	})
}

type setConfigRequest struct {
	Enabled bool     `json:"enabled"`
	Preset  string   `json:"preset" binding:"required"`
	Exclude []string `json:"exclude"`
}

// SetConfig validates and persists new scheduler settings
func (h *AutoUpdateHandler) SetConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := scheduler.Config{
		Enabled: req.Enabled,
		Preset:  req.Preset,
		Exclude: req.Exclude,
	}
	if err := h.sched.SetConfig(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	audit(c, h.db, "CONFIG", "autoupdate", "", "Updated auto-update settings")
	c.JSON(http.StatusOK, gin.H{"message": "Settings saved"})
}

// RunNow triggers an update pass immediately
func (h *AutoUpdateHandler) RunNow(c *gin.Context) {
	if err := h.sched.RunNow(); err != nil {
		respondError(c, err)
		return
	}
	audit(c, h.db, "RUN", "autoupdate", "", "Triggered update pass")
	c.JSON(http.StatusAccepted, gin.H{"message": "Update pass started"})
}

// LastResult returns the most recent pass summary
func (h *AutoUpdateHandler) LastResult(c *gin.Context) {
	result, err := h.sched.LastResult()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"last_run": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_run": result})
}
