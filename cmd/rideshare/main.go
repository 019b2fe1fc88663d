package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbonduro/rideshare/internal/backend"
	"github.com/vbonduro/rideshare/internal/capture"
	"github.com/vbonduro/rideshare/internal/config"
	"github.com/vbonduro/rideshare/internal/db"
	"github.com/vbonduro/rideshare/internal/logging"
	"github.com/vbonduro/rideshare/internal/media"
	"github.com/vbonduro/rideshare/internal/media/opencv"
	"github.com/vbonduro/rideshare/internal/media/synthetic"
	"github.com/vbonduro/rideshare/internal/photostore/local"
	"github.com/vbonduro/rideshare/internal/service"
	"github.com/vbonduro/rideshare/internal/store"
	"github.com/vbonduro/rideshare/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	previews, err := local.NewLocalPhotoStore(cfg.PhotoPath)
	if err != nil {
		logger.Error("failed to initialize preview store", "error", err)
		return
	}

	camera, err := newCameraDevice(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize camera", "error", err)
		return
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)

	sessionCfg := capture.DefaultSessionConfig()
	sessionCfg.TickInterval = cfg.CaptureTick
	sessionCfg.Quality = cfg.JPEGQuality
	sessionCfg.Constraints.Width = cfg.CameraWidth
	sessionCfg.Constraints.Height = cfg.CameraHeight

	flows := service.NewCaptureService(
		store.NewCaptureSetStore(database),
		store.NewPhotoStore(database),
		store.NewSubmissionStore(database),
		client,
		previews,
		camera,
		sessionCfg,
		logger,
	)
	if n, err := flows.RecoverStale(context.Background()); err != nil {
		logger.Error("failed to discard stale capture flows", "error", err)
	} else if n > 0 {
		logger.Info("discarded stale capture flows", "count", n)
	}
	vehicles := service.NewVehicleService(client, logger)
	srv := web.NewServer(flows, vehicles, logger).HTTPServer(cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Ending the flows first closes open event streams.
	if err := flows.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down capture flows", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", "error", err)
	}
}

// newCameraDevice picks the camera backend. Whatever it is, only one stream
// may be open at a time.
func newCameraDevice(cfg *config.Config, logger *slog.Logger) (media.Device, error) {
	switch cameraBackend(cfg.CameraBackend, opencv.Supported) {
	case "synthetic":
		logger.Info("using synthetic camera")
		return media.NewExclusive(synthetic.New(0, 0)), nil
	default:
		cam, err := opencv.New(cfg.CameraDevice, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using opencv camera", "device", cfg.CameraDevice)
		return media.NewExclusive(cam), nil
	}
}

// cameraBackend resolves "auto" to the OpenCV camera when this build has it
// and to the synthetic camera otherwise. An explicit choice is kept.
func cameraBackend(requested string, opencvSupported bool) string {
	if requested != "auto" && requested != "" {
		return requested
	}
	if opencvSupported {
		return "gocv"
	}
	slog.Warn("opencv support not built in, using synthetic camera")
	return "synthetic"
}
