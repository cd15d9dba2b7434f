// Package launcher assembles a runtime process from its configuration: the
// function log console, tracing, metrics and the invocation loop itself.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/nova-ric/internal/client"
	"github.com/oriys/nova-ric/internal/config"
	"github.com/oriys/nova-ric/internal/emulator"
	"github.com/oriys/nova-ric/internal/handler"
	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/logsink"
	"github.com/oriys/nova-ric/internal/metrics"
	"github.com/oriys/nova-ric/internal/observability"
	"github.com/oriys/nova-ric/internal/runtime"
	"github.com/oriys/nova-ric/internal/telemetry"
)

// Process is a configured runtime process. Close releases what Setup opened.
type Process struct {
	cfg     *config.Config
	console *telemetry.Console
	closers []func()
}

// Setup initializes the ambient stack for cfg.
func Setup(ctx context.Context, cfg *config.Config) (*Process, error) {
	logging.InitStructured(cfg.Log.OpFormat, cfg.Log.OpLevel)

	p := &Process{cfg: cfg}
	console, err := telemetry.Open(cfg.TelemetrySetup())
	if err != nil {
		return nil, fmt.Errorf("open function log: %w", err)
	}
	p.console = console
	p.closers = append(p.closers, func() { _ = console.Close() })

	if cfg.Tracing.Enabled {
		if err := observability.Init(ctx, cfg.Tracing); err != nil {
			logging.Op().Warn("tracing disabled", "error", err)
		} else {
			p.closers = append(p.closers, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = observability.Shutdown(shutdownCtx)
			})
		}
	}

	metrics.InitPrometheus(cfg.Metrics.Namespace, nil)

	if cfg.Log.RecordsPath != "" {
		if err := logging.Default().SetOutput(cfg.Log.RecordsPath); err != nil {
			p.Close()
			return nil, fmt.Errorf("open invocation records: %w", err)
		}
		p.closers = append(p.closers, logging.Default().Close)
	}

	sink, err := openSinks(ctx, cfg.Log)
	if err != nil {
		p.Close()
		return nil, err
	}
	if sink != nil {
		batcher := logsink.NewBatcher(sink)
		logging.Default().SetForward(batcher.Enqueue)
		p.closers = append(p.closers, func() {
			logging.Default().SetForward(nil)
			batcher.Shutdown(5 * time.Second)
			_ = sink.Close()
		})
	}
	return p, nil
}

// openSinks opens the configured record sinks. It returns nil when none is
// configured.
func openSinks(ctx context.Context, cfg config.LogConfig) (logsink.LogSink, error) {
	var sinks []logsink.LogSink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	if cfg.RecordsDSN != "" {
		pg, err := logsink.NewPostgresSink(ctx, cfg.RecordsDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres records: %w", err)
		}
		sinks = append(sinks, pg)
	}
	if cfg.RecordsRedis != "" {
		rs, err := logsink.NewRedisSink(ctx, cfg.RecordsRedis, "", 0, cfg.RecordsKey, cfg.RecordsCap)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open redis records: %w", err)
		}
		sinks = append(sinks, rs)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return logsink.NewMultiSink(sinks[0], sinks[1:]...), nil
	}
}

// Console returns the function log console.
func (p *Process) Console() *telemetry.Console {
	return p.console
}

// Close runs the cleanups in reverse order.
func (p *Process) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// Run serves invocations from the configured control plane until ctx is
// done, alongside the metrics and health listeners when configured.
func (p *Process) Run(ctx context.Context, res handler.Resolver) error {
	if p.cfg.Runtime.API == "" {
		return runtime.ErrMissingAPI
	}
	g, gctx := errgroup.WithContext(ctx)
	if addr := p.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error {
			return ServeMetrics(gctx, addr)
		})
	}
	var hs *HealthServer
	if addr := p.cfg.Health.GRPCAddr; addr != "" {
		hs = NewHealthServer()
		g.Go(func() error {
			return hs.Serve(gctx, addr)
		})
	}
	g.Go(func() error {
		if hs != nil {
			hs.SetServing(true)
			defer hs.SetServing(false)
		}
		return p.runLoop(gctx, res)
	})
	return ignoreCanceled(g.Wait())
}

func (p *Process) runLoop(ctx context.Context, res handler.Resolver) error {
	c := client.New(p.cfg.Runtime.API)
	err := runtime.Bootstrap(ctx, c, res, p.cfg.Runtime.TaskRoot, p.cfg.Runtime.Handler,
		runtime.WithConsole(p.console),
		runtime.WithEnvironment(p.cfg.Function),
	)
	if err == nil {
		// The loop drained with nothing left to wait for.
		return context.Canceled
	}
	return err
}

// Emulate serves the control plane locally and runs the loop against it.
// When invoke is non-nil it runs once the emulator is up and the process
// stops when it returns.
func (p *Process) Emulate(ctx context.Context, res handler.Resolver, invoke func(context.Context, *emulator.Server) error) error {
	srv := emulator.New(emulator.Options{
		FunctionName: p.cfg.Function.FunctionName,
		Region:       p.cfg.Function.Region,
		Timeout:      p.cfg.Emulator.Timeout,
	})
	p.cfg.Runtime.API = p.cfg.Emulator.Addr

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, p.cfg.Emulator.Addr)
	})
	g.Go(func() error {
		if err := waitListening(gctx, p.cfg.Emulator.Addr); err != nil {
			return err
		}
		return p.Run(gctx, res)
	})
	if invoke != nil {
		g.Go(func() error {
			defer cancel()
			if err := waitListening(gctx, p.cfg.Emulator.Addr); err != nil {
				return err
			}
			return invoke(gctx, srv)
		})
	}
	return ignoreCanceled(g.Wait())
}

// ServeMetrics exposes /metrics for Prometheus and /stats as JSON until ctx
// is done.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	mux.Handle("/stats", metrics.Global().JSONHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           observability.HTTPMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Op().Info("metrics listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func waitListening(ctx context.Context, addr string) error {
	hc := &http.Client{Timeout: time.Second}
	url := "http://" + addr + "/results/-"
	for {
		resp, err := hc.Get(url)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
