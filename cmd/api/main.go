package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Wikid82/gearshare/backend/internal/config"
	"github.com/Wikid82/gearshare/backend/internal/database"
	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/models"
	"github.com/Wikid82/gearshare/backend/internal/server"
	"github.com/Wikid82/gearshare/backend/internal/util"
	"github.com/Wikid82/gearshare/backend/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Setup logging with rotation
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Log().WithError(err).Fatal("create log directory")
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "gearshare.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("connect database")
	}

	// Handle CLI commands
	if len(os.Args) > 1 && os.Args[1] == "reset-password" {
		if len(os.Args) != 4 {
			logger.Log().Fatalf("Usage: %s reset-password <email> <new-password>", os.Args[0])
		}
		email, newPassword := os.Args[2], os.Args[3]
		if err := database.Migrate(db); err != nil {
			logger.Log().WithError(err).Fatal("migrate database")
		}

		var user models.User
		if err := db.Where("email = ?", email).First(&user).Error; err != nil {
			logger.Log().WithError(err).Fatal("user not found")
		}
		if err := user.SetPassword(newPassword); err != nil {
			logger.Log().WithError(err).Fatal("failed to hash password")
		}
		// Unlock account if locked
		user.LockedUntil = nil
		user.FailedLoginAttempts = 0
		if err := db.Save(&user).Error; err != nil {
			logger.Log().WithError(err).Fatal("failed to save user")
		}
		logger.Log().WithField("user", util.MaskEmail(email)).Info("password updated")
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	srv, err := server.New(db, cfg, registry)
	if err != nil {
		logger.Log().WithError(err).Fatal("build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log().WithField("version", version.Full()).Infof("starting %s backend on :%s", version.Name, cfg.HTTPPort)
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Fatal("server error")
	}
	logger.Log().Info("server stopped")
}
