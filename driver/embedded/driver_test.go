package embedded

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fluxsets/cargo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	hashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeWAR packs files into a web archive under dir.
func writeWAR(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	return getAs(t, url, "", "")
}

func getAs(t *testing.T, url, user, password string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

type harness struct {
	driver *Driver
	orch   *cargo.Orchestrator
	base   string
}

func startContainer(t *testing.T, cfg cargo.ContainerConfig) *harness {
	t.Helper()
	if cfg.Home == "" {
		cfg.Home = t.TempDir()
	}
	cfg.BindAddress = "127.0.0.1"
	d := New(discardLogger())
	o := cargo.NewOrchestrator(d, cargo.StaticConfig(cfg), cargo.WithLogger(discardLogger()))
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() {
		if o.State() == cargo.StateRunning {
			_ = o.Stop(context.Background())
		}
	})
	return &harness{driver: d, orch: o, base: "http://" + d.Current().Addr().String()}
}

func TestEmbedded_ServesStaticWARs(t *testing.T) {
	dir := t.TempDir()
	war := writeWAR(t, dir, "shop.war", map[string]string{
		"hello.html":      "<h1>shop</h1>",
		"css/site.css":    "body{}",
		"WEB-INF/web.xml": "<web-app/>",
	})
	h := startContainer(t, cargo.ContainerConfig{Deployables: []cargo.Deployable{cargo.NewWAR(war, "")}})

	status, body := get(t, h.base+"/shop/hello.html")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<h1>shop</h1>", body)

	status, body = get(t, h.base+"/shop/css/site.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "body{}", body)

	status, _ = get(t, h.base+"/shop/WEB-INF/web.xml")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = get(t, h.base+"/shop/web-inf/web.xml")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = get(t, h.base+cargo.HealthCheckContext)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = get(t, h.base+"/elsewhere")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "/shop")
	assert.Contains(t, body, cargo.HealthCheckContext)

	tree := h.driver.Current().tree
	assert.Equal(t, []string{cargo.HealthCheckContext, "/shop"}, tree.Contexts())
}

func TestEmbedded_DeployAfterStart(t *testing.T) {
	h := startContainer(t, cargo.ContainerConfig{})
	ctx := context.Background()

	exploded := filepath.Join(t.TempDir(), "blog")
	require.NoError(t, os.MkdirAll(exploded, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(exploded, "post.txt"), []byte("hello"), 0o600))

	require.NoError(t, h.orch.Deploy(ctx, cargo.NewWAR(exploded, "")))
	status, body := get(t, h.base+"/blog/post.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", body)

	require.NoError(t, h.orch.Undeploy(ctx, "/blog"))
	status, _ = get(t, h.base+"/blog/post.txt")
	assert.Equal(t, http.StatusNotFound, status)
	require.NoError(t, h.orch.Undeploy(ctx, "/blog"))
}

func TestEmbedded_DeployMissingArchiveAfterStart(t *testing.T) {
	h := startContainer(t, cargo.ContainerConfig{})

	err := h.orch.Deploy(context.Background(), cargo.NewWAR(filepath.Join(t.TempDir(), "gone.war"), ""))
	require.ErrorIs(t, err, cargo.ErrDriverInvocation)
	_, ok := h.orch.Handle("/gone")
	assert.False(t, ok)
	assert.Equal(t, cargo.StateRunning, h.orch.State())
}

func TestEmbedded_RootContext(t *testing.T) {
	war := writeWAR(t, t.TempDir(), "ROOT.war", map[string]string{"index.txt": "root"})
	h := startContainer(t, cargo.ContainerConfig{Deployables: []cargo.Deployable{cargo.NewWAR(war, "")}})

	status, body := get(t, h.base+"/index.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "root", body)

	status, body = get(t, h.base+cargo.HealthCheckContext)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestEmbedded_Realm(t *testing.T) {
	war := writeWAR(t, t.TempDir(), "admin.war", map[string]string{"index.txt": "secret"})
	h := startContainer(t, cargo.ContainerConfig{
		Deployables: []cargo.Deployable{cargo.NewWAR(war, "")},
		Principals:  []cargo.Principal{{Name: "admin", Password: "pw", Roles: []string{"manager"}}},
	})

	status, _ := get(t, h.base+"/admin/index.txt")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = getAs(t, h.base+"/admin/index.txt", "admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := getAs(t, h.base+"/admin/index.txt", "admin", "pw")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "secret", body)

	status, _ = get(t, h.base+cargo.HealthCheckContext)
	assert.Equal(t, http.StatusOK, status)
}

func TestRealm_Authenticate(t *testing.T) {
	r, err := NewRealm("test", []cargo.Principal{{Name: "ann", Password: "pw", Roles: []string{"a", "b"}}})
	require.NoError(t, err)
	assert.Equal(t, "test", r.Name())

	roles, ok := r.Authenticate("ann", "pw")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, roles)

	_, ok = r.Authenticate("ann", "nope")
	assert.False(t, ok)
	_, ok = r.Authenticate("bob", "pw")
	assert.False(t, ok)
}

func TestEmbedded_BusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	d := New(discardLogger())
	o := cargo.NewOrchestrator(d, cargo.StaticConfig(cargo.ContainerConfig{
		Home:        t.TempDir(),
		Port:        port,
		BindAddress: "127.0.0.1",
	}), cargo.WithLogger(discardLogger()))

	err = o.Start(context.Background())
	require.ErrorIs(t, err, cargo.ErrConfiguration)
	assert.Contains(t, err.Error(), strconv.Itoa(port))
	assert.Equal(t, cargo.StateFailed, o.State())
	assert.Nil(t, d.Current())
}

func TestEmbedded_FailedStartReleasesPort(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "later.war")
	cfg := cargo.ContainerConfig{
		Home:        dir,
		BindAddress: "127.0.0.1",
		Deployables: []cargo.Deployable{cargo.NewWAR(missing, "")},
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d := New(discardLogger())
	o := cargo.NewOrchestrator(d, func() (cargo.ContainerConfig, error) { return cfg, nil },
		cargo.WithLogger(discardLogger()))
	require.Error(t, o.Start(context.Background()))
	assert.Equal(t, cargo.StateFailed, o.State())

	writeWAR(t, dir, "later.war", map[string]string{"a.txt": "a"})
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	status, body := get(t, "http://"+d.Current().Addr().String()+"/later/a.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a", body)
}

func TestEmbedded_StopEndsLifecycle(t *testing.T) {
	h := startContainer(t, cargo.ContainerConfig{})
	srv := h.driver.Current()
	addr := h.base
	hook := make(chan struct{})
	srv.OnStop(func(context.Context) error {
		close(hook)
		return nil
	})

	require.NoError(t, h.orch.Stop(context.Background()))
	select {
	case <-srv.Done():
	case <-time.After(time.Second):
		t.Fatal("accept loop still running")
	}
	select {
	case <-hook:
	default:
		t.Fatal("stop hook not called")
	}
	assert.NoError(t, srv.Err())
	assert.Nil(t, h.driver.Current())

	_, err := http.Get(addr + cargo.HealthCheckContext)
	assert.Error(t, err)
}

func TestDriver_CreateServerIsIdempotent(t *testing.T) {
	d := New(discardLogger())
	cfg := cargo.ContainerConfig{Home: t.TempDir()}

	var wg sync.WaitGroup
	servers := make([]cargo.Server, 16)
	for i := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv, err := d.CreateServer(context.Background(), cfg)
			assert.NoError(t, err)
			servers[i] = srv
		}()
	}
	wg.Wait()
	for _, srv := range servers {
		assert.Same(t, servers[0], srv)
	}
	assert.False(t, servers[0].Started())
}

func TestDriver_RejectsNonWebArchives(t *testing.T) {
	d := New(discardLogger())
	ctx := context.Background()
	srv, err := d.CreateServer(ctx, cargo.ContainerConfig{Home: t.TempDir(), BindAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, d.ConfigureConnectors(ctx, srv, 0))
	reg, err := d.InstallHandlerTree(ctx, srv)
	require.NoError(t, err)
	defer d.Stop(ctx, srv)

	for _, typ := range []cargo.DeployableType{cargo.EAR, cargo.EJB, cargo.RAR, cargo.File, cargo.Bundle} {
		_, err := d.Deploy(ctx, reg, cargo.Deployable{Type: typ, FilePath: "/x/app." + string(typ)}, nil)
		assert.ErrorIs(t, err, cargo.ErrUnsupportedDeployableType, "type %s", typ)
	}
	assert.Empty(t, reg.Contexts())

	_, err = d.InstallHandlerTree(ctx, srv)
	assert.ErrorIs(t, err, cargo.ErrInvalidState)
}

func TestDriver_InvalidPort(t *testing.T) {
	d := New(discardLogger())
	ctx := context.Background()
	srv, err := d.CreateServer(ctx, cargo.ContainerConfig{Home: t.TempDir()})
	require.NoError(t, err)
	assert.ErrorIs(t, d.ConfigureConnectors(ctx, srv, 70000), cargo.ErrConfiguration)
	assert.ErrorIs(t, d.ConfigureConnectors(ctx, srv, -1), cargo.ErrConfiguration)
}

func TestDriver_UndeployForeignAndZeroHandles(t *testing.T) {
	d := New(discardLogger())
	ctx := context.Background()
	srv, err := d.CreateServer(ctx, cargo.ContainerConfig{Home: t.TempDir(), BindAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, d.ConfigureConnectors(ctx, srv, 0))
	reg, err := d.InstallHandlerTree(ctx, srv)
	require.NoError(t, err)
	defer d.Stop(ctx, srv)

	assert.NoError(t, d.Undeploy(ctx, reg, cargo.HandlerHandle{}))

	err = d.Undeploy(ctx, reg, cargo.HandlerHandle{ID: "x", ContextPath: "/x", Issuer: "other"})
	assert.ErrorIs(t, err, cargo.ErrDriverInvocation)

	h, err := d.Deploy(ctx, reg, cargo.NewWAR(filepath.Join(t.TempDir(), "app.war"), ""), nil)
	require.NoError(t, err)
	_, err = d.Deploy(ctx, reg, cargo.NewWAR(filepath.Join(t.TempDir(), "app.war"), ""), nil)
	assert.ErrorIs(t, err, cargo.ErrDuplicateDeployment)
	require.NoError(t, d.Undeploy(ctx, reg, h))
	require.NoError(t, d.Undeploy(ctx, reg, h))
	assert.Empty(t, reg.Contexts())
}
