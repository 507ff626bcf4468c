package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	scriptbridge "github.com/shaharia-lab/scriptbridge"
	"github.com/shaharia-lab/scriptbridge/channel"
	"github.com/shaharia-lab/scriptbridge/config"
	"github.com/shaharia-lab/scriptbridge/events"
	"github.com/shaharia-lab/scriptbridge/journal"
	"github.com/shaharia-lab/scriptbridge/modal"
	"github.com/shaharia-lab/scriptbridge/observability"
	"github.com/shaharia-lab/scriptbridge/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (comments allowed)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scriptbridge: %v\n", err)
		os.Exit(1)
	}

	logger, flush, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scriptbridge: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithErr(err).Error("scriptbridge stopped")
		flush()
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (observability.Logger, func(), error) {
	switch cfg.Format {
	case "zap":
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = level
		z, err := zc.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build zap logger: %w", err)
		}
		return observability.NewZapLogger(z), func() { _ = z.Sync() }, nil
	case "slog":
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		return observability.NewSlogLogger(slog.New(handler)), func() {}, nil
	default:
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{})
		return observability.NewLogrusLogger(l), func() {}, nil
	}
}

func run(ctx context.Context, cfg config.Config, logger observability.Logger) error {
	if cfg.Server.Transport == "stdio" && cfg.Modal.Input == "console" {
		return errors.New("console dialogs cannot share stdin with the stdio transport")
	}

	calls, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, cfg.Journal.MaxEntries, logger)
	if err != nil {
		return err
	}
	defer calls.Close()

	g, ctx := errgroup.WithContext(ctx)

	var (
		source  events.Source
		publish publishFunc
	)
	if cfg.Events.RedisAddr != "" {
		redisSource := events.NewRedisSourceFromAddr(cfg.Events.RedisAddr, cfg.Events.RedisChannel, logger)
		defer redisSource.Close()
		g.Go(func() error { return redisSource.Run(ctx) })
		source, publish = redisSource, redisSource.Publish
	} else {
		broadcaster := events.NewBroadcaster()
		source = broadcaster
		publish = func(_ context.Context, name string, data json.RawMessage) error {
			broadcaster.Broadcast(name, data)
			return nil
		}
	}

	registry, err := newRegistry(publish, calls)
	if err != nil {
		return err
	}

	var preamble string
	if cfg.Bootstrap.PreambleFile != "" {
		b, err := os.ReadFile(cfg.Bootstrap.PreambleFile)
		if err != nil {
			return fmt.Errorf("failed to read preamble: %w", err)
		}
		preamble = string(b)
	}

	var input modal.InputService = modal.HeadlessInput{}
	if cfg.Modal.Input == "console" {
		input = modal.NewConsoleInput(os.Stdin, os.Stderr)
	}

	newSession := func(ch channel.ScriptChannel) (*scriptbridge.Session, error) {
		return scriptbridge.NewSession(ch,
			scriptbridge.UseLogger(logger),
			scriptbridge.UseRegistry(registry),
			scriptbridge.UseEventSource(source),
			scriptbridge.UseInputService(input),
			scriptbridge.UseJournal(calls),
			scriptbridge.UseForgetCallsOnClose(*cfg.Journal.ForgetOnClose),
			scriptbridge.UseEventRateLimit(cfg.Events.RateLimit, cfg.Events.Burst),
			scriptbridge.UseBootstrap(scriptbridge.Bootstrap{
				Constructor:  cfg.Bootstrap.Constructor,
				CallBinding:  cfg.Bootstrap.CallBinding,
				EventBinding: cfg.Bootstrap.EventBinding,
			}),
			scriptbridge.UsePreamble(preamble),
			scriptbridge.UseDialogTitle(cfg.Modal.DialogTitle),
		)
	}

	switch cfg.Server.Transport {
	case "stdio":
		g.Go(func() error {
			err := transport.Serve(ctx, transport.NewStdIOConn(os.Stdin, os.Stdout), newSession, logger)
			if err == nil {
				// The runtime went away; stop the rest too.
				return errStdIOClosed
			}
			return err
		})
	default:
		mux := http.NewServeMux()
		mux.Handle(cfg.Server.WebSocketPath, transport.NewWebSocketHandler(newSession,
			transport.UseLogger(logger),
			transport.UseAllowedOrigins(cfg.Server.AllowedOrigins),
			transport.UseBaseContext(ctx),
		))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

		g.Go(func() error {
			logger.Infof("scriptbridge listening on %s%s", cfg.Server.ListenAddr, cfg.Server.WebSocketPath)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, errStdIOClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errStdIOClosed = errors.New("stdio runtime disconnected")
