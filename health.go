package cargo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"gocloud.dev/server/health"
)

var errUnhealthy = errors.New("unhealthy")

// HealthCheck is a settable health.Checker.
type HealthCheck struct {
	healthy bool
	mu      sync.RWMutex
}

func (check *HealthCheck) SetHealthy(healthy bool) {
	check.mu.Lock()
	defer check.mu.Unlock()
	check.healthy = healthy
}

func (check *HealthCheck) CheckHealth() error {
	check.mu.RLock()
	defer check.mu.RUnlock()
	if !check.healthy {
		return errUnhealthy
	}
	return nil
}

var _ health.Checker = new(HealthCheck)

// Probe asks the container at baseURL whether its health-check context
// answers. Any status other than 200 is reported as an error.
func Probe(ctx context.Context, client *http.Client, baseURL string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+HealthCheckContext, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: %w: status %d", baseURL, errUnhealthy, resp.StatusCode)
	}
	return nil
}
