package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/termgate/termgate/internal/auth"
	"github.com/termgate/termgate/internal/config"
	"github.com/termgate/termgate/internal/database"
	"github.com/termgate/termgate/internal/handlers"
	"github.com/termgate/termgate/internal/heartbeat"
	"github.com/termgate/termgate/internal/logging"
	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/session"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: ListenAddr=%s AuthDisabled=%v GatewayURL=%s",
		config.Cfg.ListenAddr, config.Cfg.AuthDisabled, config.Cfg.GatewayURL)

	// Session manager. Tunables come from the settings store, seeded from
	// the environment defaults.
	suspendExpiry := config.Duration(
		database.GetSetting("suspend_expiry", config.Cfg.SuspendExpiry), 30*time.Minute)
	sessionMgr := session.NewManager(session.Config{
		PendingBufferSize:   int(config.Bytes(config.Cfg.PendingBufferSize, 1024*1024)),
		SuspendExpiry:       suspendExpiry,
		MaxSuspendedPerUser: database.GetSettingInt("max_suspended_per_user", config.Cfg.MaxSuspendedPerUser),
	})
	handlers.SessionMgr = sessionMgr
	log.Printf("Session manager initialized (suspend_expiry=%s, max_suspended_per_user=%d)",
		suspendExpiry, config.Cfg.MaxSuspendedPerUser)

	// Heartbeat profiles
	handlers.DesktopProfile = heartbeat.Profile{
		Interval: config.Duration(
			database.GetSetting("heartbeat_desktop_interval", config.Cfg.HeartbeatDesktopInterval),
			heartbeat.DefaultDesktop.Interval),
		MissedThreshold: database.GetSettingInt("heartbeat_desktop_missed", config.Cfg.HeartbeatDesktopMissed),
	}
	handlers.MobileProfile = heartbeat.Profile{
		Interval: config.Duration(
			database.GetSetting("heartbeat_mobile_interval", config.Cfg.HeartbeatMobileInterval),
			heartbeat.DefaultMobile.Interval),
		MissedThreshold: database.GetSettingInt("heartbeat_mobile_missed", config.Cfg.HeartbeatMobileMissed),
	}

	handlers.TransferIdleTimeout = config.Duration(config.Cfg.TransferIdleTimeout, 2*time.Minute)
	handlers.GatewayURL = config.Cfg.GatewayURL

	// Init session store
	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	// Periodic maintenance: expired suspend entries and stale auth sessions.
	scheduler := cron.New()
	scheduler.AddFunc("@every 1m", func() {
		if n := sessionMgr.SweepExpired(); n > 0 {
			log.Printf("Suspend sweep cleaned %d expired session(s)", n)
		}
	})
	scheduler.AddFunc("@every 10m", sessionStore.Cleanup)
	scheduler.Start()
	defer scheduler.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", handlers.Login)

		// Protected routes (require auth)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			// Connections (ListConnections filters by role internally)
			r.Get("/connections", handlers.ListConnections)
			r.Get("/connections/{id}", handlers.GetConnection)

			// Suspended sessions
			r.Get("/suspended", handlers.ListSuspendedSessions)
			r.Delete("/suspended/{suspendId}", handlers.RemoveSuspendedSession)

			// Main gateway WebSocket
			r.Get("/ws", handlers.GatewayWS)

			// RDP/VNC WebSocket
			r.Get("/connections/{id}/desktop", handlers.DesktopWS)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Post("/connections", handlers.CreateConnection)
				r.Put("/connections/{id}", handlers.UpdateConnection)
				r.Delete("/connections/{id}", handlers.DeleteConnection)
			})
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sessionMgr.CloseAll()
	handlers.CloseDockerControls()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: termgate --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.DB.Model(user).Update("password_hash", hash).Error; err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'.\n", *username)
	}
}
