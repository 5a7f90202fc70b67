package embedded

import (
	"archive/zip"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/fluxsets/cargo"
	"gocloud.dev/server/health"
)

var hiddenDirs = []string{"/WEB-INF", "/META-INF"}

// webApp serves the static content of a web archive, packed (zip) or
// exploded (directory). Archive internals under WEB-INF and META-INF are
// never served.
type webApp struct {
	d       cargo.Deployable
	protect func(http.Handler) http.Handler

	mu      sync.RWMutex
	files   http.Handler
	closer  io.Closer
	running bool
}

func newWebApp(d cargo.Deployable, realm *Realm) *webApp {
	app := &webApp{d: d}
	if realm != nil {
		app.protect = realm.Protect
	}
	return app
}

func (a *webApp) ContextPath() string {
	return a.d.Context()
}

func (a *webApp) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	info, err := os.Stat(a.d.FilePath)
	if err != nil {
		return err
	}
	var fsys fs.FS
	if info.IsDir() {
		fsys = os.DirFS(a.d.FilePath)
	} else {
		zr, err := zip.OpenReader(a.d.FilePath)
		if err != nil {
			return err
		}
		fsys, a.closer = zr, zr
	}
	var files http.Handler = http.FileServer(http.FS(fsys))
	if a.protect != nil {
		files = a.protect(files)
	}
	a.files = files
	a.running = true
	return nil
}

func (a *webApp) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.files = nil
	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}

func (a *webApp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clean := strings.ToUpper(path.Clean("/" + r.URL.Path))
	for _, dir := range hiddenDirs {
		if clean == dir || strings.HasPrefix(clean, dir+"/") {
			http.NotFound(w, r)
			return
		}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.running {
		http.Error(w, "context "+a.ContextPath()+" is not running", http.StatusServiceUnavailable)
		return
	}
	a.files.ServeHTTP(w, r)
}

// healthHandler answers on the reserved health-check context with 200 while
// the server is healthy.
type healthHandler struct {
	check health.Checker
}

func (h *healthHandler) ContextPath() string {
	return cargo.HealthCheckContext
}

func (h *healthHandler) Start() error { return nil }

func (h *healthHandler) Stop() error { return nil }

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.check.CheckHealth(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	_, _ = io.WriteString(w, "ok")
}

var errNotWebApp = errors.New("only web archives (packed or exploded) can be deployed")
