package handler

import (
	"net/http"

	"github.com/casadock/casadock/internal/composefile"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// FileHandler exposes guarded compose/env file operations
type FileHandler struct {
	guard *composefile.Guard
	db    *gorm.DB
}

// NewFileHandler creates a new FileHandler
func NewFileHandler(guard *composefile.Guard, db *gorm.DB) *FileHandler {
	return &FileHandler{guard: guard, db: db}
}

// Get returns the current content of a stack's compose or env file
func (h *FileHandler) Get(c *gin.Context) {
	kind, err := composefile.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content, err := h.guard.ReadFile(c.Param("name"), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content})
}

type putFileRequest struct {
	Content string `json:"content" binding:"required"`
}

// Put validates, snapshots, and atomically replaces a file
func (h *FileHandler) Put(c *gin.Context) {
	kind, err := composefile.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req putFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	if err := h.guard.WriteFile(name, kind, req.Content); err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.db, "EDIT", "stack", name, "Saved "+string(kind)+" file")
	c.JSON(http.StatusOK, gin.H{"message": "File saved"})
}

// ListBackups returns a stack's snapshots, newest first
func (h *FileHandler) ListBackups(c *gin.Context) {
	snaps, err := h.guard.ListBackups(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": snaps})
}

type restoreRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// Restore replaces the current file with a snapshot's content
func (h *FileHandler) Restore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := composefile.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	snapshotID := c.Param("id")
	if err := h.guard.RestoreFile(name, kind, snapshotID); err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.db, "RESTORE", "stack", name, "Restored snapshot "+snapshotID)
	c.JSON(http.StatusOK, gin.H{"message": "Snapshot restored"})
}
