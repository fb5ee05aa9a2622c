// Package app wires the worker together: config, logging, store,
// source clients, renderer, transport and the pipeline runner.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"deliverybot/internal/config"
	"deliverybot/internal/logging"
	"deliverybot/internal/notify"
	"deliverybot/internal/pipeline"
	"deliverybot/internal/render"
	"deliverybot/internal/source/hana"
	"deliverybot/internal/source/servicelayer"
	"deliverybot/internal/store"
	"deliverybot/internal/transport/telegram"
)

type App struct {
	cfgManager *config.Manager
	log        zerolog.Logger
	logCloser  io.Closer

	store      *store.Store
	extractor  *hana.Extractor
	sl         *servicelayer.Client
	dispatcher *notify.Dispatcher
	runner     *pipeline.Runner

	sup *Supervisor
}

// New loads config and builds every component. Nothing runs yet;
// Start launches the pipelines and background goroutines.
func New(cfgPath string) (*App, error) {
	bootLog := zerolog.Nop()
	cm := config.NewManager(cfgPath, bootLog)
	cfg, err := cm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &App{cfgManager: cm, log: log, logCloser: logCloser}

	a.store, err = store.Open(cfg.Storage, log.With().Str("component", "store").Logger())
	if err != nil {
		a.closeOnErr()
		return nil, fmt.Errorf("open store: %w", err)
	}

	adapter, err := telegram.New(cfg.Telegram, log.With().Str("component", "telegram").Logger())
	if err != nil {
		a.closeOnErr()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	a.dispatcher = notify.New(adapter, cfg.Telegram, log.With().Str("component", "notify").Logger())

	renderer, err := render.New(cfg.Render, log.With().Str("component", "render").Logger())
	if err != nil {
		a.closeOnErr()
		return nil, fmt.Errorf("renderer: %w", err)
	}

	pipes := cfg.Pipelines
	runner := pipeline.NewRunner(log.With().Str("component", "runner").Logger())

	if pipes.Deliveries.Enabled || pipes.Partners.Enabled {
		a.extractor, err = hana.Open(cfg.Hana, log.With().Str("component", "hana").Logger())
		if err != nil {
			a.closeOnErr()
			return nil, fmt.Errorf("hana source: %w", err)
		}
	}
	if pipes.Catalog.Enabled || pipes.Orders.Enabled || pipes.Approvals.Enabled {
		a.sl, err = servicelayer.New(cfg.ServiceLayer, log.With().Str("component", "service_layer").Logger())
		if err != nil {
			a.closeOnErr()
			return nil, fmt.Errorf("service layer client: %w", err)
		}
	}

	if pipes.Deliveries.Enabled {
		co := pipeline.NewCoordinator(a.extractor, a.store, renderer, a.dispatcher,
			log.With().Str("pipeline", "deliveries").Logger())
		runner.Register("deliveries", pipes.Deliveries.Period.Std(), co.RunCycle)
	}
	if pipes.Partners.Enabled {
		ps := pipeline.NewPartnerSync(a.extractor, a.store,
			log.With().Str("pipeline", "partners").Logger())
		runner.Register("partners", pipes.Partners.Period.Std(), ps.Run)
	}
	if pipes.Catalog.Enabled {
		cs := pipeline.NewCatalogSync(a.sl, a.store,
			log.With().Str("pipeline", "catalog").Logger())
		runner.Register("catalog", pipes.Catalog.Period.Std(), cs.Run)
	}
	if pipes.Orders.Enabled {
		os := pipeline.NewOrderSync(a.sl, a.store,
			log.With().Str("pipeline", "orders").Logger())
		runner.Register("orders", pipes.Orders.Period.Std(), os.Run)
	}
	if pipes.Approvals.Enabled {
		as := pipeline.NewApprovalSync(a.sl, a.store,
			log.With().Str("pipeline", "approvals").Logger())
		runner.Register("approvals", pipes.Approvals.Period.Std(), as.Run)
	}
	a.runner = runner

	return a, nil
}

func (a *App) closeOnErr() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.extractor != nil {
		_ = a.extractor.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// Start launches the pipelines, the config watcher and the systemd
// watchdog, then notifies readiness.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, a.log.With().Str("component", "supervisor").Logger())

	if err := a.runner.Start(a.sup.Context()); err != nil {
		return err
	}

	// Only the dynamic knobs are applied on reload; everything else
	// needs a restart and is just reported.
	a.cfgManager.OnReload(func(cfg *config.Config) {
		a.dispatcher.SetRate(cfg.Telegram.RatePerSec)
		logging.SetLevel(cfg.Logging.Level)
		a.log.Info().Str("level", cfg.Logging.Level).Msg("dynamic config applied")
	})
	a.sup.Go("config-watcher", func(ctx context.Context) error {
		return a.cfgManager.Watch(ctx)
	})
	a.sup.Go("sd-watchdog", watchdogLoop)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn().Err(err).Msg("sd_notify failed")
	} else if sent {
		a.log.Debug().Msg("systemd notified ready")
	}

	a.log.Info().Msg("worker started")
	return nil
}

// Stop winds everything down: scheduling first, then in-flight cycles,
// then resources. An in-flight document's transaction either fully
// lands or not at all; its notification may be lost.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.runner != nil {
		if err := a.runner.Stop(ctx); err != nil {
			a.log.Warn().Err(err).Msg("runner stop cut short")
		}
	}
	if a.sup != nil {
		a.sup.Shutdown(ctx)
	}
	if a.extractor != nil {
		_ = a.extractor.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info().Msg("worker stopped")
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return nil
}

// watchdogLoop pings the systemd watchdog at half the configured
// interval. No-op when the unit has no WatchdogSec.
func watchdogLoop(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
