package handler

import (
	"net/http"
	"strings"

	"github.com/casadock/casadock/internal/runner"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// RunHandler starts, inspects, cancels, and streams operation runs
type RunHandler struct {
	runner *runner.Runner
	db     *gorm.DB
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(rn *runner.Runner, db *gorm.DB) *RunHandler {
	return &RunHandler{runner: rn, db: db}
}

type startRunRequest struct {
	Args []string `json:"args"`
}

// Start launches a lifecycle command (up/down/restart/pull) against a stack.
// It returns the accepted run handle or a structured rejection.
func (h *RunHandler) Start(c *gin.Context) {
	kind, err := runner.ParseKind(c.Param("action"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Body is optional; most operations need no extra arguments.
	var req startRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	name := c.Param("name")
	run, err := h.runner.Run(name, kind, req.Args)
	if err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.db, strings.ToUpper(string(kind)), "stack", name, "Started "+string(kind))
	c.JSON(http.StatusAccepted, run.Snapshot())
}

// Get returns a run's current state and line count
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.runner.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run.Snapshot())
}

// Cancel terminates a run's process group
func (h *RunHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.runner.Cancel(id); err != nil {
		respondError(c, err)
		return
	}
	audit(c, h.db, "CANCEL", "run", id, "Cancelled run")
	c.JSON(http.StatusOK, gin.H{"message": "Cancel requested"})
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.HasSuffix(origin, "://"+r.Host)
	},
}

// Stream delivers a run's output over WebSocket: buffered lines are replayed
// first, then live lines, then the terminal status event. If the socket
// closes before an "end" event arrived, the client fell behind and should
// reconnect; the replay buffer fills in what it missed.
func (h *RunHandler) Stream(c *gin.Context) {
	run, err := h.runner.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := run.Subscribe()
	defer unsubscribe()

	// Detect client disconnect so the subscription is released promptly.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-disconnected:
			return
		}
	}
}
