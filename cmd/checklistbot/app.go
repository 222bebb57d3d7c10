package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/m3rciful/checklistbot/checklist/analysis"
	"github.com/m3rciful/checklistbot/checklist/archive"
	appconfig "github.com/m3rciful/checklistbot/checklist/config"
	"github.com/m3rciful/checklistbot/checklist/flow"
	"github.com/m3rciful/checklistbot/checklist/metrics"
	"github.com/m3rciful/checklistbot/checklist/tgbot"
	"github.com/m3rciful/checklistbot/core/bootstrap"
	corecmd "github.com/m3rciful/checklistbot/core/cmd"
	coretelegram "github.com/m3rciful/checklistbot/core/telegram"
)

const metricsShutdownTimeout = 5 * time.Second

type app struct {
	bot     *tgbot.Bot
	infra   *bootstrap.Result
	metrics *metrics.Server
}

func loadConfig(path string) (corecmd.ConfigCarrier, error) {
	cfg, err := appconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func bootstrapApp(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*appconfig.Config)
	if !ok {
		return nil, fmt.Errorf("unexpected config type %T", carrier)
	}
	infra, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	return a, nil
}

func newApp(cfg *appconfig.Config, infra *bootstrap.Result) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := flow.NewStore(cfg.Checklist.Items, cfg.Checklist.MaxSessions)
	if err != nil {
		return nil, err
	}

	opts := flow.Options{
		Locations: cfg.Checklist.Locations,
		Items:     cfg.Checklist.Items,
		Store:     store,
		Analyzer: analysis.New(analysis.Options{
			APIKey:       cfg.Analysis.APIKey,
			Organization: cfg.Analysis.Organization,
			BaseURL:      cfg.Analysis.BaseURL,
			Model:        cfg.Analysis.Model,
			MaxTokens:    cfg.Analysis.MaxTokens,
			Timeout:      cfg.Analysis.Timeout(),
		}),
		Metrics: metrics.NewRecorder(reg),
	}
	var history tgbot.Historian
	if infra != nil && infra.DB != nil {
		arch := archive.New(infra.DB)
		opts.Archive = arch
		history = arch
	}
	machine, err := flow.New(opts)
	if err != nil {
		return nil, err
	}

	a := &app{infra: infra}
	if cfg.Metrics.Listen != "" {
		a.metrics = metrics.NewServer(cfg.Metrics.Listen, reg)
	}

	a.bot, err = tgbot.New(tgbot.Options{
		Config:  cfg.CoreConfig(),
		Machine: machine,
		History: history,
		Metrics: reg,
		OnStart: a.start,
		OnStop:  a.stop,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return a.bot.TelegramRunOptions()
}

func (a *app) start(ctx context.Context, _ coretelegram.Runtime) error {
	if a.metrics == nil {
		return nil
	}
	return a.metrics.Start(ctx)
}

func (a *app) stop(ctx context.Context, _ coretelegram.Runtime) error {
	if a.metrics == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()
	return a.metrics.Shutdown(ctx)
}

// Close releases the database connection.
func (a *app) Close() error {
	var errs []error
	if a.infra != nil {
		errs = append(errs, a.infra.Close())
	}
	return errors.Join(errs...)
}
