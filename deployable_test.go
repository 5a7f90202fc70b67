package cargo

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"app", "/app"},
		{"/app/", "/app"},
		{" //shop/cart// ", "/shop/cart"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeContext(tt.in), "input %q", tt.in)
	}
}

func TestNewWAR(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		context  string
		wantPath string
	}{
		{name: "explicit context", path: "/x/app.war", context: "/store", wantPath: "/store"},
		{name: "derived from archive", path: "/x/shop.war", wantPath: "/shop"},
		{name: "derived from directory", path: "/x/exploded", wantPath: "/exploded"},
		{name: "ROOT archive", path: "/x/ROOT.war", wantPath: "/"},
		{name: "ROOT context", path: "/x/app.war", context: "ROOT", wantPath: "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewWAR(tt.path, tt.context)
			assert.Equal(t, WAR, d.Type)
			assert.Equal(t, tt.path, d.FilePath)
			assert.Equal(t, tt.wantPath, d.Context())
		})
	}
}

func TestHealthCheckDeployable(t *testing.T) {
	d := HealthCheckDeployable("/opt/cargo")
	assert.Equal(t, WAR, d.Type)
	assert.Equal(t, HealthCheckContext, d.Context())
	assert.Equal(t, filepath.Join("/opt/cargo", "cargocpc.war"), d.FilePath)
}

func TestWrapDriverError(t *testing.T) {
	assert.NoError(t, WrapDriverError("d", "op", nil, nil))

	classifiedErr := errors.Join(ErrDuplicateDeployment, errors.New("taken"))
	assert.Same(t, classifiedErr, WrapDriverError("d", "deploy", nil, classifiedErr))

	cause := errors.New("socket closed")
	d := NewWAR("/x/app.war", "")
	err := WrapDriverError("embedded", "deploy", &d, cause)
	require.ErrorIs(t, err, ErrDriverInvocation)
	require.ErrorIs(t, err, cause)

	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "/x/app.war", de.Deployable)
	assert.Equal(t, "embedded: deploy deployable=/x/app.war: socket closed", err.Error())
}
