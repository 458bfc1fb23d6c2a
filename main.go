package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/philipch07/cuetrack/internal/api"
	"github.com/philipch07/cuetrack/internal/chapters"
	"github.com/philipch07/cuetrack/internal/config"
	"github.com/philipch07/cuetrack/internal/logging"
	"github.com/philipch07/cuetrack/internal/session"
	"github.com/philipch07/cuetrack/internal/viewers"
	"github.com/philipch07/cuetrack/internal/webrtc"
)

const shutdownTimeout = 5 * time.Second

func loadConfigs() (config.Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load()
}

// startSession builds the session and applies the cue file and autostart
// settings.
func startSession(ctx context.Context, cfg config.Config, fs afero.Fs, logger zerolog.Logger) (*session.Session, error) {
	sess := session.New(ctx, session.Options{
		Logger:                  logger,
		MinNotificationInterval: cfg.MinNotificationInterval,
		EventHistory:            cfg.EventHistory,
	})

	if cfg.CueFile != "" {
		sheet, err := chapters.Load(fs, cfg.CueFile)
		if err != nil {
			return nil, err
		}
		if err := sess.Add(ctx, sheet.Points()...); err != nil {
			return nil, fmt.Errorf("add cues from %s: %w", cfg.CueFile, err)
		}
		logger.Info().Str("file", cfg.CueFile).Int("cues", len(sheet.Entries)).Msg("cue sheet loaded")
	}

	if cfg.Autostart {
		if err := sess.Start(ctx); err != nil {
			return nil, err
		}
		if cfg.StartAt > 0 {
			if err := sess.Seek(ctx, cfg.StartAt); err != nil {
				return nil, err
			}
		}
		logger.Info().Dur("start_at", cfg.StartAt).Msg("playback autostarted")
	}

	return sess, nil
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	sess, err := startSession(ctx, cfg, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}

	var feed api.Feed
	if !cfg.DisableWebRTC {
		f, err := webrtc.Configure(cfg.WebRTC, sess.Events(), logger)
		if err != nil {
			return fmt.Errorf("configure webrtc: %w", err)
		}
		defer func() { _ = f.Close() }()
		feed = f
	}

	server := &http.Server{
		Handler: api.New(api.Config{
			Session: sess,
			Viewers: viewers.New(viewers.Config{
				PollTTL:  cfg.ViewerTTLPoll,
				HashSalt: cfg.ViewerHashSalt,
			}),
			Feed:          feed,
			DisableStatus: cfg.DisableStatus,
			Logger:        logger,
		}).Handler(),
		Addr: cfg.HTTPAddress,
	}

	if cfg.TLS() {
		cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			return err
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		if server.TLSConfig != nil {
			logger.Info().Str("address", cfg.HTTPAddress).Msg("running HTTPS server")
			serveErr <- server.ListenAndServeTLS("", "")
		} else {
			logger.Info().Str("address", cfg.HTTPAddress).Msg("running HTTP server")
			serveErr <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-sess.Done()
	return nil
}

func main() {
	cfg, err := loadConfigs()
	if err != nil {
		// Retry next to the executable, where a packaged .env lives.
		exePath, exeErr := os.Executable()
		if exeErr != nil || os.Chdir(filepath.Dir(exePath)) != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if cfg, err = loadConfigs(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
