package cargo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluxsets/cargo/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerComponent_StopEndsStart(t *testing.T) {
	o := newTestOrchestrator(newFakeDriver(), testConfig())
	comp := NewContainerComponent(o, time.Second)
	assert.Equal(t, "container@fake", comp.Name())
	assert.Error(t, comp.CheckHealth())

	errc := make(chan error, 1)
	go func() { errc <- comp.Start(context.Background()) }()
	require.Eventually(t, func() bool { return comp.CheckHealth() == nil }, time.Second, 5*time.Millisecond)

	comp.Stop(context.Background())
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("start did not return after stop")
	}
	assert.Equal(t, StateStopped, o.State())
}

func TestContainerComponent_StartFailure(t *testing.T) {
	d := newFakeDriver()
	d.failOn["start"] = errors.New("no threads")
	comp := NewContainerComponent(newTestOrchestrator(d, testConfig()), time.Second)

	require.Error(t, comp.Start(context.Background()))
	comp.Stop(context.Background())
}

func TestApp_RunCommand(t *testing.T) {
	o := option.Option{Config: writeConfig(t, t.TempDir(), testConfigYAML), Properties: "container.port=9090"}
	var stopped bool
	app, err := New(o, func(ctx context.Context, app *App) error {
		assert.Equal(t, 9090, app.Configurer().GetInt("container.port"))
		app.Hooks().OnStop(func(ctx context.Context) error {
			stopped = true
			return nil
		})
		app.Command("noop", func(ctx context.Context) error {
			return nil
		})
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, app.Run())
	assert.True(t, stopped)
	assert.Len(t, app.HealthCheckers(), 1)
}

func TestApp_MissingConfigFile(t *testing.T) {
	_, err := New(option.Option{Config: "/does/not/exist.yaml"}, nil)
	require.ErrorIs(t, err, ErrConfiguration)
}
