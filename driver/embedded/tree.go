package embedded

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/fluxsets/cargo"
	"go.uber.org/multierr"
)

// contextHandler is the server-side object of one deployed application.
type contextHandler interface {
	http.Handler
	ContextPath() string
	Start() error
	Stop() error
}

type mount struct {
	id string
	h  contextHandler
}

// HandlerTree routes requests to the context handler with the longest
// matching context path and falls back to a handler listing the deployed
// contexts.
type HandlerTree struct {
	lifecycle string

	mu      sync.RWMutex
	mounts  []mount
	started bool
}

func newHandlerTree(lifecycle string) *HandlerTree {
	return &HandlerTree{lifecycle: lifecycle}
}

// Contexts returns the mounted context paths in sorted order.
func (t *HandlerTree) Contexts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	contexts := make([]string, 0, len(t.mounts))
	for _, m := range t.mounts {
		contexts = append(contexts, m.h.ContextPath())
	}
	sort.Strings(contexts)
	return contexts
}

// add mounts h. When the tree already runs the handler is started before
// it becomes reachable.
func (t *HandlerTree) add(id string, h contextHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.mounts {
		if m.h.ContextPath() == h.ContextPath() {
			return fmt.Errorf("%w: context %s already mounted", cargo.ErrDuplicateDeployment, h.ContextPath())
		}
	}
	if t.started {
		if err := h.Start(); err != nil {
			return err
		}
	}
	t.mounts = append(t.mounts, mount{id: id, h: h})
	return nil
}

// remove unmounts and stops the handler with id. Unknown ids are ignored.
func (t *HandlerTree) remove(id string) error {
	t.mu.Lock()
	i := slices.IndexFunc(t.mounts, func(m mount) bool { return m.id == id })
	if i < 0 {
		t.mu.Unlock()
		return nil
	}
	h := t.mounts[i].h
	t.mounts = slices.Delete(t.mounts, i, i+1)
	t.mu.Unlock()
	return h.Stop()
}

// start starts every handler mounted before the server started, in mount order.
func (t *HandlerTree) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.mounts {
		if err := m.h.Start(); err != nil {
			for _, prev := range t.mounts[:i] {
				_ = prev.h.Stop()
			}
			return fmt.Errorf("start %s: %w", m.h.ContextPath(), err)
		}
	}
	t.started = true
	return nil
}

func (t *HandlerTree) stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.started {
		for _, m := range t.mounts {
			err = multierr.Append(err, m.h.Stop())
		}
	}
	t.started = false
	return err
}

func (t *HandlerTree) match(path string) contextHandler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best contextHandler
	for _, m := range t.mounts {
		ctx := m.h.ContextPath()
		if ctx != "/" && path != ctx && !strings.HasPrefix(path, ctx+"/") {
			continue
		}
		if best == nil || len(ctx) > len(best.ContextPath()) {
			best = m.h
		}
	}
	return best
}

func (t *HandlerTree) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := t.match(r.URL.Path)
	if h == nil {
		t.serveDefault(w, r)
		return
	}
	if ctx := h.ContextPath(); ctx != "/" {
		http.StripPrefix(ctx, h).ServeHTTP(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

// serveDefault answers requests outside every context with 404 and the list
// of deployed contexts.
func (t *HandlerTree) serveDefault(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if r.Method == http.MethodHead {
		return
	}
	fmt.Fprintf(w, "no context matches %s\n\ncontexts known to this server:\n", r.URL.Path)
	for _, ctx := range t.Contexts() {
		fmt.Fprintf(w, "  %s\n", ctx)
	}
}

var _ cargo.HandlerRegistry = (*HandlerTree)(nil)
