package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/casadock/casadock/internal/composefile"
	"github.com/casadock/casadock/internal/registry"
	"github.com/casadock/casadock/internal/runner"
	"github.com/casadock/casadock/internal/scheduler"
	"github.com/gin-gonic/gin"
)

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		code int
	}{
		{registry.ErrInvalidName, http.StatusBadRequest},
		{composefile.ErrInvalidContent, http.StatusBadRequest},
		{runner.ErrInvalidArgs, http.StatusBadRequest},
		{registry.ErrNotFound, http.StatusNotFound},
		{composefile.ErrNotFound, http.StatusNotFound},
		{runner.ErrRunNotFound, http.StatusNotFound},
		{registry.ErrAlreadyExists, http.StatusConflict},
		{registry.ErrBusy, http.StatusConflict},
		{composefile.ErrBusy, http.StatusConflict},
		{scheduler.ErrAlreadyRunning, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			// Handlers always wrap sentinels with context.
			respondError(c, fmt.Errorf("operation on %q: %w", "plex", tc.err))

			if w.Code != tc.code {
				t.Fatalf("status = %d, want %d", w.Code, tc.code)
			}
		})
	}
}
