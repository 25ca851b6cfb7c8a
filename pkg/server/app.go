package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"BTProxy/internal/service/ratelimit"
	xhttp "BTProxy/pkg/http"
	applogger "BTProxy/pkg/logger"
)

// Promoter runs the periodic promotion pass until ctx ends.
type Promoter interface {
	Run(ctx context.Context, interval time.Duration)
}

// Worker is a background consumer (Kafka or Redis warm queue) whose
// handlers are registered before Start.
type Worker interface {
	Start() error
	Stop(ctx context.Context) error
}

// Components are the long-running parts of the service. Nil members are
// skipped.
type Components struct {
	HTTP            *xhttp.Server
	Promoter        Promoter
	PromoteInterval time.Duration
	Workers         []Worker
	Limiter         *ratelimit.Limiter
	ShutdownTimeout time.Duration
}

// App encapsulates the application lifecycle. Resources (cache, stores,
// database pools, producer) are released by the injector cleanup after
// Run returns.
type App struct {
	comps Components
	log   *applogger.Logger
}

func New(log *applogger.Logger, comps Components) *App {
	if comps.ShutdownTimeout <= 0 {
		comps.ShutdownTimeout = 10 * time.Second
	}
	return &App{comps: comps, log: log.Named("app")}
}

// Run starts the application and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx ends or the HTTP
// server fails, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if a.comps.Promoter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.comps.Promoter.Run(bgCtx, a.comps.PromoteInterval)
		}()
		a.log.Info("promoter started", applogger.Duration("interval", a.comps.PromoteInterval))
	}

	if a.comps.Limiter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweepLimiter(bgCtx, a.comps.Limiter, time.Minute)
		}()
	}

	for i, w := range a.comps.Workers {
		if err := w.Start(); err != nil {
			cancel()
			a.stopWorkers(a.comps.Workers[:i])
			wg.Wait()
			return err
		}
	}

	var httpErr <-chan error
	if a.comps.HTTP != nil {
		httpErr = a.comps.HTTP.Start()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err, ok := <-httpErr:
		if ok && err != nil {
			runErr = err
		}
	}

	cancel()
	shutdownErr := a.shutdown()
	wg.Wait()
	a.log.Info("shutdown complete")
	return errors.Join(runErr, shutdownErr)
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.comps.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.comps.HTTP != nil {
		if err := a.comps.HTTP.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	for _, w := range a.comps.Workers {
		if err := w.Stop(ctx); err != nil {
			a.log.Warn("worker stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) stopWorkers(ws []Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), a.comps.ShutdownTimeout)
	defer cancel()
	for _, w := range ws {
		if err := w.Stop(ctx); err != nil {
			a.log.Warn("worker stop error", applogger.Error(err))
		}
	}
}

func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(10 * every)
		}
	}
}
