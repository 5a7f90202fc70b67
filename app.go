package cargo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fluxsets/cargo/eventbus"
	"github.com/fluxsets/cargo/option"
	"github.com/oklog/run"
	"github.com/spf13/viper"
	"gocloud.dev/server/health"
)

type SetupFunc func(ctx context.Context, app *App) error

// App runs components side by side until one of them ends or the process
// is signalled, then stops all of them and calls the stop hooks.
type App struct {
	ctx            context.Context
	cancelCtx      context.CancelFunc
	o              option.Option
	runG           *run.Group
	eventBus       eventbus.EventBus
	hooks          *hooks
	logger         *slog.Logger
	c              Configurer
	healthCheckers []health.Checker
	setup          SetupFunc
}

func New(o option.Option, setup SetupFunc) (*App, error) {
	o.EnsureDefaults()
	app := &App{
		o:    o,
		runG: &run.Group{},
		hooks: &hooks{
			onStarts: []HookFunc{},
			onStops:  []HookFunc{},
		},
		eventBus: eventbus.New(),
		setup:    setup,
		logger:   slog.Default(),
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())
	if err := app.init(); err != nil {
		app.cancelCtx()
		return nil, err
	}
	return app, nil
}

func (app *App) init() error {
	if err := app.initConfigurer(); err != nil {
		return err
	}
	app.hooks.OnStop(func(ctx context.Context) error {
		return app.eventBus.Close(ctx)
	})
	return nil
}

func (app *App) initConfigurer() error {
	var err error
	switch {
	case app.o.ConfigDir != "":
		app.c, err = NewConfigFromDir(strings.Split(app.o.ConfigDir, ","), app.configType())
	case app.o.Config != "":
		app.c, err = NewConfigFromFile(app.o.Config)
	default:
		app.c, err = NewConfigFromDir([]string{"./configs"}, app.configType())
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			app.c, err = NewConfigFromMap(nil), nil
		}
	}
	if err != nil {
		return err
	}
	app.c.Merge(app.o.PropertiesAsMap())
	return nil
}

func (app *App) configType() string {
	if app.o.ConfigType != "" {
		return app.o.ConfigType
	}
	return "yaml"
}

func (app *App) SetLogger(logger *slog.Logger) {
	slog.SetDefault(logger)
	app.logger = logger
}

func (app *App) Logger(args ...any) *slog.Logger {
	return app.logger.With(args...)
}

func (app *App) Configurer() Configurer {
	return app.c
}

func (app *App) Option() *option.Option {
	return &app.o
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) EventBus() eventbus.EventBus {
	return app.eventBus
}

func (app *App) Hooks() Hooks {
	return app.hooks
}

func (app *App) HealthCheckers() []health.Checker {
	return app.healthCheckers
}

func (app *App) Close() {
	app.cancelCtx()
}

// Command runs fn as a one-shot component; the App stops once it returns.
func (app *App) Command(name string, fn CommandFunc) {
	app.Deploy(NewCommand(name, fn))
}

func (app *App) Deploy(components ...Component) {
	for _, comp := range components {
		ctx, cancel := context.WithCancel(context.Background())
		logger := app.Logger("component", comp.Name())
		app.runG.Add(func() error {
			logger.Info("starting component")
			return comp.Start(ctx)
		}, func(err error) {
			comp.Stop(ctx)
			cancel()
			logger.Info("component stopped")
		})
		app.healthCheckers = append(app.healthCheckers, comp)
	}
}

// Run calls the setup function and blocks until the App has shut down.
func (app *App) Run() error {
	if app.setup != nil {
		if err := app.setup(app.ctx, app); err != nil {
			return err
		}
	}
	app.Logger().Info("starting")
	app.runG.Add(func() error {
		app.Logger().Info("calling on start hooks")
		if err := RunHooks(app.ctx, app.hooks.onStarts); err != nil {
			return err
		}
		<-app.ctx.Done()
		return nil
	}, func(err error) {
		app.Close()
	})

	app.runG.Add(func() error {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(exit)
		select {
		case <-app.ctx.Done():
			return nil
		case sig := <-exit:
			app.Logger().Info("received signal", "signal", sig.String())
			return nil
		}
	}, func(err error) {
		app.Logger().Info("shutting down")
		app.Close()
		ctx, cancelCtx := context.WithTimeout(context.Background(), app.o.ShutdownTimeout)
		defer cancelCtx()
		app.Logger().Info("calling on stop hooks")
		if err := RunHooks(ctx, app.hooks.onStops); err != nil {
			app.logger.ErrorContext(ctx, "stop hook error", "error", err)
		}
	})
	return app.runG.Run()
}
