package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/casadock/casadock/internal/auth"
	"github.com/casadock/casadock/internal/composefile"
	"github.com/casadock/casadock/internal/config"
	"github.com/casadock/casadock/internal/database"
	"github.com/casadock/casadock/internal/docker"
	"github.com/casadock/casadock/internal/gate"
	"github.com/casadock/casadock/internal/handler"
	"github.com/casadock/casadock/internal/registry"
	"github.com/casadock/casadock/internal/runner"
	"github.com/casadock/casadock/internal/scheduler"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db := database.Init(cfg.DBPath)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Connect to the Docker daemon. Status degrades to "unknown" while the
	// daemon is unreachable; orchestration still shells out to compose.
	dockerCli, err := docker.NewClient(cfg.DockerSock)
	if err != nil {
		log.Fatalf("Failed to create Docker client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := dockerCli.Ping(ctx); err != nil {
		log.Printf("⚠️  Docker daemon not reachable: %v", err)
	}
	cancel()

	// Core engine wiring
	g := gate.New()
	reg := registry.New(cfg.StacksDir, cfg.ComposeFiles, dockerCli, g, logger)
	guard := composefile.NewGuard(reg, g, cfg.BackupKeep, logger)
	rn := runner.New(reg, g, runner.ExecLauncher{}, cfg, logger)
	reg.Teardown = rn.DownSync

	schedStore := scheduler.NewStore(filepath.Join(cfg.DataDir, "autoupdate.json"), scheduler.Config{
		Enabled: cfg.AutoUpdateEnabled,
		Preset:  cfg.AutoUpdatePreset,
	})
	sched := scheduler.New(schedStore, reg, rn, logger)
	sched.Start()

	// Setup Gin
	r := gin.Default()

	// CORS: allow frontend dev server and same-origin requests
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	// ============ API Routes ============
	api := r.Group("/api")

	// Public routes (no auth required)
	limiter := auth.NewRateLimiter(5, 900)
	authH := handler.NewAuthHandler(db, cfg, limiter)
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/setup", authH.Setup)
	api.GET("/auth/need-setup", authH.NeedSetup)

	// Protected routes (JWT required)
	protected := api.Group("")
	protected.Use(auth.Middleware(cfg.JWTSecret))

	// User info
	protected.GET("/auth/me", authH.Me)

	// Stack catalog
	stackH := handler.NewStackHandler(reg, db)
	protected.GET("/stacks", stackH.List)
	protected.POST("/stacks", stackH.Create)
	protected.GET("/stacks/:name", stackH.Get)
	protected.DELETE("/stacks/:name", stackH.Delete)
	protected.GET("/stacks/:name/status", stackH.Status)
	protected.GET("/system", stackH.System)

	// Compose/env file editing
	fileH := handler.NewFileHandler(guard, db)
	protected.GET("/stacks/:name/files/:kind", fileH.Get)
	protected.PUT("/stacks/:name/files/:kind", fileH.Put)
	protected.GET("/stacks/:name/backups", fileH.ListBackups)
	protected.POST("/stacks/:name/backups/:id/restore", fileH.Restore)

	// Lifecycle operations
	runH := handler.NewRunHandler(rn, db)
	protected.POST("/stacks/:name/actions/:action", runH.Start)
	protected.GET("/runs/:id", runH.Get)
	protected.POST("/runs/:id/cancel", runH.Cancel)
	protected.GET("/runs/:id/stream", runH.Stream)

	// Auto-update scheduler
	updateH := handler.NewAutoUpdateHandler(sched, db)
	protected.GET("/autoupdate/config", updateH.GetConfig)
	protected.PUT("/autoupdate/config", updateH.SetConfig)
	protected.POST("/autoupdate/run", updateH.RunNow)
	protected.GET("/autoupdate/last", updateH.LastResult)

	// Audit log
	auditH := handler.NewAuditHandler(db)
	protected.GET("/audit", auditH.List)

	// ============ Frontend Static Files ============
	setupFrontend(r)

	// Start server
	addr := ":" + cfg.Port
	log.Printf("🚀 CasaDock starting on http://localhost%s", addr)
	log.Printf("📁 Stacks directory: %s", cfg.StacksDir)

	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// setupFrontend serves the SPA from web/dist if it exists
func setupFrontend(r *gin.Engine) {
	distPath := "web/dist"

	if _, err := os.Stat(distPath); os.IsNotExist(err) {
		log.Println("⚠️  Frontend dist not found. Run 'cd web && npm run build' to build the frontend.")
		return
	}

	// Serve static assets
	r.Static("/assets", filepath.Join(distPath, "assets"))
	r.StaticFile("/favicon.ico", filepath.Join(distPath, "favicon.ico"))

	// SPA fallback: serve index.html for all non-API, non-asset routes
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path

		// Don't interfere with API routes
		if strings.HasPrefix(path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		filePath := filepath.Join(distPath, path)
		if _, err := os.Stat(filePath); err == nil {
			c.File(filePath)
			return
		}

		c.File(filepath.Join(distPath, "index.html"))
	})

	log.Println("✅ Serving frontend from web/dist")
}
