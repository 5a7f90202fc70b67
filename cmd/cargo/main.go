package main

import (
	"context"
	"fmt"
	"log"

	"github.com/fluxsets/cargo"
	"github.com/fluxsets/cargo/contrib/log/zap"
	"github.com/fluxsets/cargo/driver/embedded"
	"github.com/fluxsets/cargo/driver/scripted"
	"github.com/fluxsets/cargo/eventbus"
	"github.com/fluxsets/cargo/option"
	"github.com/fluxsets/cargo/server/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gocloud.dev/pubsub"
)

var version = "v0.1.0"

type Config struct {
	PubSub map[string]eventbus.TopicOption `json:"pubsub"`
}

func main() {
	opt := option.FromFlags()
	opt.Name = "cargo"
	opt.Version = version
	app, err := cargo.New(opt, setup)
	if err != nil {
		log.Fatal(err)
	}
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

func setup(ctx context.Context, app *cargo.App) error {
	opt := app.Option()
	app.SetLogger(zap.NewLogger(opt, ""))
	logger := app.Logger()

	if target := opt.Probe; target != "" {
		app.Command("probe", func(ctx context.Context) error {
			if err := cargo.Probe(ctx, nil, target); err != nil {
				return err
			}
			logger.Info("container is healthy", "target", target)
			return nil
		})
		return nil
	}

	config := &Config{}
	if err := app.Configurer().Unmarshal(config); err != nil {
		return err
	}
	app.EventBus().Init(config.PubSub)
	logger.Info("parsed option", "option", opt.String())

	containerConfig := app.Configurer().Sub("container")
	driver, err := newDriver(containerConfig.GetString("driver"), app)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orch := cargo.NewOrchestrator(driver, cargo.ConfigFrom(containerConfig),
		cargo.WithName(opt.ID),
		cargo.WithLogger(logger),
		cargo.WithEventPublisher(app.EventBus()),
		cargo.WithMetrics(cargo.NewMetrics(reg)),
	)

	events := eventbus.NewSubscriber(app.EventBus(), cargo.TopicLifecycle, func(ctx context.Context, msg *pubsub.Message) error {
		logger.Info("lifecycle event", "event", string(msg.Body))
		return nil
	}, logger)
	if err := events.Open(); err != nil {
		return err
	}
	app.Deploy(events, cargo.NewContainerComponent(orch, opt.ShutdownTimeout))

	if opt.MetricsAddr != "" {
		app.Deploy(http.NewServer(opt.MetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), app.HealthCheckers, logger))
	}
	return nil
}

func newDriver(name string, app *cargo.App) (cargo.ContainerDriver, error) {
	switch name {
	case "", embedded.Name:
		return embedded.New(app.Logger()), nil
	case scripted.Name:
		return scripted.New(scripted.NewEventBusExecutor(app.EventBus(), scripted.TopicScript), app.Logger()), nil
	default:
		return nil, fmt.Errorf("%w: unknown container driver %q", cargo.ErrConfiguration, name)
	}
}
