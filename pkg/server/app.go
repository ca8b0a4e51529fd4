package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"DriftWatch/internal/drift"
	"DriftWatch/internal/retraining"
	"DriftWatch/internal/usecase"
	pkgch "DriftWatch/pkg/clickhouse"
	"DriftWatch/pkg/config"
	xhttp "DriftWatch/pkg/http"
	pkgkafka "DriftWatch/pkg/kafka"
	applogger "DriftWatch/pkg/logger"
	"DriftWatch/pkg/queue"
)

// App owns the process lifecycle: it starts the monitor, scheduler, feedback
// sources and HTTP API, then tears everything down in reverse on SIGINT/SIGTERM.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	monitor    *drift.Monitor
	scheduler  *retraining.Scheduler
	collector  *usecase.FeedbackCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	processor  *usecase.DriftEventProcessor
	alertQueue *queue.RedisQueue
	chClient   *pkgch.Client
	handler    xhttp.Handler
	httpServer *xhttp.Server
}

// New creates an App with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	monitor *drift.Monitor,
	scheduler *retraining.Scheduler,
	collector *usecase.FeedbackCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	processor *usecase.DriftEventProcessor,
	alertQueue *queue.RedisQueue,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:        cfg,
		logger:     l,
		monitor:    monitor,
		scheduler:  scheduler,
		collector:  collector,
		consumer:   consumer,
		kh:         kh,
		processor:  processor,
		alertQueue: alertQueue,
		chClient:   chClient,
		handler:    handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	if a.cfg.Drift.ImportOnStart && a.cfg.Drift.ExportPath != "" {
		if err := a.monitor.ImportDriftData(a.cfg.Drift.ExportPath); err != nil {
			l.Warn("drift state import skipped", applogger.Error(err))
		} else {
			l.Info("drift state imported", applogger.String("path", a.cfg.Drift.ExportPath))
		}
	}

	if err := a.monitor.Start(); err != nil {
		return err
	}
	l.Info("drift monitor started")

	if err := a.scheduler.Start(); err != nil {
		a.stopMonitor(l)
		return err
	}
	l.Info("retraining scheduler started")

	if a.alertQueue != nil {
		if err := a.alertQueue.Start(); err != nil {
			l.Error("alert queue start error", applogger.Error(err))
		} else {
			l.Info("alert queue started")
		}
	}

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("feedback collector error", applogger.Error(err))
			}
		}()
		l.Info("feedback collector started", applogger.Strings("symbols", a.cfg.Finnhub.Symbols))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops the ingest side first so no new samples arrive, then the
// monitor and scheduler, then the fan-out and infrastructure clients.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("feedback collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			l.Error("http shutdown error", applogger.Error(err))
		}
	}

	if err := a.scheduler.Stop(); err != nil {
		l.Warn("scheduler stop error", applogger.Error(err))
	}
	a.stopMonitor(l)

	if a.cfg.Drift.ExportPath != "" {
		if err := a.monitor.ExportDriftData(a.cfg.Drift.ExportPath); err != nil {
			l.Warn("drift state export error", applogger.Error(err))
		} else {
			l.Info("drift state exported", applogger.String("path", a.cfg.Drift.ExportPath))
		}
	}

	if a.alertQueue != nil {
		if err := a.alertQueue.Stop(ctx); err != nil {
			l.Warn("alert queue stop error", applogger.Error(err))
		}
	}
	if a.processor != nil {
		a.processor.Close()
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}

func (a *App) stopMonitor(l *applogger.Logger) {
	if err := a.monitor.Stop(); err != nil {
		l.Warn("drift monitor stop error", applogger.Error(err))
	}
}
