package cargo

import (
	"path/filepath"
	"strings"
)

// DeployableType names the kind of packaged artifact.
type DeployableType string

const (
	WAR    DeployableType = "war"
	EAR    DeployableType = "ear"
	EJB    DeployableType = "ejb"
	RAR    DeployableType = "rar"
	File   DeployableType = "file"
	Bundle DeployableType = "bundle"
)

// HealthCheckContext is the context path reserved for the health-check
// deployable appended to every successful start.
const HealthCheckContext = "/cargocpc"

const healthCheckArchive = "cargocpc.war"

// Deployable describes one artifact to host. It is a value: once built it
// is not modified by the orchestrator or drivers.
type Deployable struct {
	Type        DeployableType `json:"type" validate:"required"`
	FilePath    string         `json:"file_path" validate:"required"`
	ContextPath string         `json:"context_path"`
}

// NewWAR returns a web archive deployable. An empty context is derived from
// the archive name, "ROOT" maps to the root context.
func NewWAR(filePath, context string) Deployable {
	if context == "" {
		base := filepath.Base(filePath)
		context = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if context == "ROOT" {
		context = "/"
	}
	return Deployable{Type: WAR, FilePath: filePath, ContextPath: NormalizeContext(context)}
}

// HealthCheckDeployable returns the internal deployable mounted at
// HealthCheckContext for the container rooted at home.
func HealthCheckDeployable(home string) Deployable {
	return Deployable{
		Type:        WAR,
		FilePath:    filepath.Join(home, healthCheckArchive),
		ContextPath: HealthCheckContext,
	}
}

// Context returns the normalized context path of the deployable.
func (d Deployable) Context() string {
	return NormalizeContext(d.ContextPath)
}

func (d Deployable) String() string {
	return string(d.Type) + ":" + d.FilePath + "@" + d.Context()
}

// NormalizeContext returns path with a single leading slash and no trailing
// slash; the empty path is the root context "/".
func NormalizeContext(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	return "/" + path
}
