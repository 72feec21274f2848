package handler

import (
	"net/http"

	"github.com/casadock/casadock/internal/registry"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StackHandler manages the stack catalog endpoints
type StackHandler struct {
	reg *registry.Registry
	db  *gorm.DB
}

// NewStackHandler creates a new StackHandler
func NewStackHandler(reg *registry.Registry, db *gorm.DB) *StackHandler {
	return &StackHandler{reg: reg, db: db}
}

// List returns the current stack catalog with live status
func (h *StackHandler) List(c *gin.Context) {
	stacks, err := h.reg.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stacks": stacks})
}

// Get returns a single stack with live status
func (h *StackHandler) Get(c *gin.Context) {
	st, err := h.reg.StatusOf(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// System returns daemon-level information for the dashboard header
func (h *StackHandler) System(c *gin.Context) {
	info, err := h.reg.DockerInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"docker": nil, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docker": info})
}

// Status returns the derived status and container count only
func (h *StackHandler) Status(c *gin.Context) {
	st, err := h.reg.StatusOf(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":       st.Name,
		"status":     st.Status,
		"containers": st.Containers,
	})
}

type createStackRequest struct {
	Name    string `json:"name" binding:"required"`
	Compose string `json:"compose" binding:"required"`
}

// Create makes a new stack directory with an initial compose file
func (h *StackHandler) Create(c *gin.Context) {
	var req createStackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.reg.Create(req.Name, req.Compose)
	if err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.db, "CREATE", "stack", st.Name, "Created stack")
	c.JSON(http.StatusCreated, st)
}

// Delete removes a stack's directory tree after a best-effort teardown
func (h *StackHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if err := h.reg.Delete(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.db, "DELETE", "stack", name, "Deleted stack")
	c.JSON(http.StatusOK, gin.H{"message": "Stack deleted"})
}
