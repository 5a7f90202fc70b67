package cargo

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Configurer interface {
	ConfigGetter
	ConfigUnmarshaler
	Sub(key string) Configurer
	Merge(data map[string]any)
}

type ConfigGetter interface {
	Get(key string) any
	GetInt(key string) int
	GetBool(key string) bool
	GetString(key string) string
}

type ConfigUnmarshaler interface {
	Unmarshal(v any) error
}

type viperConfig struct {
	v *viper.Viper
}

func (vc *viperConfig) Merge(data map[string]any) {
	for k, v := range data {
		vc.v.Set(k, v)
	}
}

func (vc *viperConfig) Get(key string) any {
	return vc.v.Get(key)
}

func (vc *viperConfig) GetInt(key string) int {
	return vc.v.GetInt(key)
}

func (vc *viperConfig) GetBool(key string) bool {
	return vc.v.GetBool(key)
}

func (vc *viperConfig) GetString(key string) string {
	return vc.v.GetString(key)
}

func (vc *viperConfig) Unmarshal(v any) error {
	return vc.v.Unmarshal(v, func(config *mapstructure.DecoderConfig) {
		config.TagName = "json"
	})
}

// Sub returns the subtree at key; a missing key yields an empty config.
func (vc *viperConfig) Sub(key string) Configurer {
	sub := vc.v.Sub(key)
	if sub == nil {
		sub = viper.New()
	}
	return &viperConfig{
		v: sub,
	}
}

var _ Configurer = new(viperConfig)

// NewConfigFromDir reads the "config" file of configType from the first of
// dirs that has one.
func NewConfigFromDir(dirs []string, configType string) (Configurer, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType(configType)
	for _, dir := range dirs {
		v.AddConfigPath(strings.TrimSpace(dir))
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return &viperConfig{v: v}, nil
}

// NewConfigFromFile reads a single config file; its type follows the extension.
func NewConfigFromFile(path string) (Configurer, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return &viperConfig{v: v}, nil
}

// NewConfigFromMap builds a config from in-memory values.
func NewConfigFromMap(data map[string]any) Configurer {
	vc := &viperConfig{v: viper.New()}
	vc.Merge(data)
	return vc
}

const (
	defaultRealmName       = "Cargo Test Realm"
	defaultShutdownTimeout = 10 * time.Second
)

// ContainerConfig is the configuration input of one container, read once per
// start.
type ContainerConfig struct {
	Driver          string               `json:"driver"`
	Home            string               `json:"home" validate:"required"`
	Port            int                  `json:"port" validate:"gte=0,lte=65535"`
	BindAddress     string               `json:"bind_address"`
	RealmName       string               `json:"realm_name"`
	Deployables     []Deployable         `json:"deployables" validate:"dive"`
	Principals      []Principal          `json:"principals" validate:"dive"`
	Resources       []ResourceDescriptor `json:"resources" validate:"dive"`
	ShutdownTimeout time.Duration        `json:"shutdown_timeout"`
}

func (c *ContainerConfig) ensureDefaults() {
	if c.RealmName == "" {
		c.RealmName = defaultRealmName
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	for i := range c.Deployables {
		if c.Deployables[i].Type == WAR {
			c.Deployables[i] = NewWAR(c.Deployables[i].FilePath, c.Deployables[i].ContextPath)
		}
	}
}

var validate = validator.New()

// Validate applies defaults and checks the configuration; any violation is
// reported as ErrConfiguration.
func (c *ContainerConfig) Validate() error {
	c.ensureDefaults()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// ConfigLoader supplies the container configuration at start.
type ConfigLoader func() (ContainerConfig, error)

// StaticConfig returns a loader that always yields cfg.
func StaticConfig(cfg ContainerConfig) ConfigLoader {
	return func() (ContainerConfig, error) {
		return cfg, nil
	}
}

// ConfigFrom returns a loader decoding the container section of c.
func ConfigFrom(c Configurer) ConfigLoader {
	return func() (ContainerConfig, error) {
		var cfg ContainerConfig
		if err := c.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return cfg, nil
	}
}
