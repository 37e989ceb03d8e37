package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/padlink/backend/internal/config"
	"github.com/padlink/backend/internal/controller"
	"github.com/padlink/backend/internal/device"
	"github.com/padlink/backend/internal/frontend"
	"github.com/padlink/backend/internal/logging"
	"github.com/padlink/backend/internal/mock"
	"github.com/padlink/backend/internal/monitor"
	"github.com/padlink/backend/internal/router"
	"github.com/padlink/backend/internal/session"
	"github.com/padlink/backend/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	mockMode := flag.Bool("mock", false, "Use in-memory virtual devices instead of uinput")
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	mode := flag.String("mode", "", "Override controller mode (gamepad or keyboard-mouse)")
	flag.Parse()

	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *mode != "" {
		cfg.Controller.Mode = device.Mode(*mode)
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to set up logging")
	}

	ctrlOpts := controller.Options{
		Sensitivity:   cfg.Controller.Sensitivity,
		Deadzone:      cfg.Controller.Deadzone,
		PointerScale:  cfg.Controller.PointerScale,
		ClickDuration: cfg.Controller.ClickDuration,
		MinVibration:  cfg.Controller.Vibration.MinDuration,
		MaxVibration:  cfg.Controller.Vibration.MaxDuration,
		Codes:         cfg.ButtonCodes(),
	}
	factory, dev, err := newFactory(cfg, ctrlOpts, *mockMode, logging.Component(logger, "device"))
	if err != nil {
		logger.Fatal().Err(err).Str("mode", string(cfg.Controller.Mode)).Msg("virtual device init failed")
	}
	defer dev.Close()

	guard := monitor.NewResourceGuard(monitor.Options{
		MaxMemoryPercent: cfg.Resources.MaxMemoryPercent,
		MaxOpenFiles:     cfg.Resources.MaxOpenFiles,
		Interval:         cfg.Resources.SampleInterval,
	}, logging.Component(logger, "monitor"))

	var gate session.Gate
	var debounce time.Duration
	if cfg.Controller.Mode == device.ModeKeyboardMouse {
		gate = guard
		debounce = cfg.Controller.Debounce
	}
	registry := session.NewRegistry(session.Options{MaxSlots: cfg.SlotLimit(), Gate: gate})
	rt := router.New(router.Options{
		Debounce:   debounce,
		QueueLimit: cfg.Controller.EventQueue,
	}, logging.Component(logger, "router"))
	broadcaster := ws.NewBroadcaster(logging.Component(logger, "broadcast"))

	frontendDir := ""
	if *devMode {
		cwd, _ := os.Getwd()
		frontendDir = filepath.Join(cwd, "internal", "frontend", "static")
	}
	// Built with -tags embed the page is served from the binary.
	var static http.Handler
	if !*devMode {
		static = frontend.Handler()
	}

	server := ws.NewServer(ws.Options{
		Mode:           cfg.Controller.Mode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		FrontendDir:    frontendDir,
		Dev:            *devMode,
		Static:         static,
	}, registry, factory, rt, broadcaster, guard, logging.Component(logger, "ws"))

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("mode", string(cfg.Controller.Mode)).
			Int("max_sessions", cfg.SlotLimit()).
			Bool("mock", *mockMode).
			Msg("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sessions still open at shutdown")
	}
}

// newFactory opens the process-wide virtual device for the configured mode
// and returns the per-session controller factory bound to it.
func newFactory(cfg *config.Config, opts controller.Options, useMock bool, log zerolog.Logger) (controller.Factory, io.Closer, error) {
	switch cfg.Controller.Mode {
	case device.ModeKeyboardMouse:
		var dev device.KeyboardMouse
		if useMock {
			dev = mock.NewKeyboardMouse()
		} else {
			d, err := device.NewUInputKeyboardMouse(device.KeyboardMouseOptions{
				Path: cfg.Device.Path,
				Name: cfg.Device.Name,
			}, log)
			if err != nil {
				return nil, nil, err
			}
			dev = d
		}
		return controller.KeyboardMouseFactory(controller.NewSharedKeyboardMouse(dev), opts), dev, nil
	case device.ModeGamepad:
		var dev device.Gamepad
		if useMock {
			dev = mock.NewGamepad()
		} else {
			d, err := device.NewUInputGamepad(device.GamepadOptions{
				Path:      cfg.Device.Path,
				Name:      cfg.Device.Name,
				VendorID:  cfg.Device.VendorID,
				ProductID: cfg.Device.ProductID,
			}, log)
			if err != nil {
				return nil, nil, err
			}
			dev = d
		}
		return controller.GamepadFactory(dev, opts), dev, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown mode %q", device.ErrDeviceInit, cfg.Controller.Mode)
}
