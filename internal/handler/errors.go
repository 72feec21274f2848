package handler

import (
	"errors"
	"net/http"

	"github.com/casadock/casadock/internal/composefile"
	"github.com/casadock/casadock/internal/registry"
	"github.com/casadock/casadock/internal/runner"
	"github.com/casadock/casadock/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// respondError maps engine sentinels to HTTP status codes. Rejections keep
// their reason text so the UI can surface "try again" for busy stacks
// instead of treating them as broken.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, composefile.ErrInvalidContent),
		errors.Is(err, runner.ErrInvalidArgs):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, composefile.ErrNotFound),
		errors.Is(err, runner.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrBusy),
		errors.Is(err, composefile.ErrBusy),
		errors.Is(err, scheduler.ErrAlreadyRunning):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
