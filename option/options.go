package option

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/AdamSLevy/flagbind"
	"github.com/spf13/pflag"
)

type Option struct {
	ID              string        `json:"id" flag:"id;;Instance ID, defaults to the hostname"`
	ConfigDir       string        `json:"config_dir" flag:"conf;;config dirs, eg: --conf ./configs,/etc/cargo"`
	ConfigType      string        `json:"config_type" flag:"config-type;yaml;config file type, eg: --config-type yaml"`
	Config          string        `json:"config" flag:"config;;config file, eg: --config ./configs/config.yaml"`
	LogLevel        string        `json:"loglevel" flag:"loglevel;info;default log level"`
	Properties      string        `json:"properties" flag:"properties;;config overrides, eg: --properties container.port=8080,container.home=/tmp/cargo"`
	Probe           string        `json:"probe" flag:"probe;;probe the health check context of a running container and exit, eg: --probe http://localhost:8080"`
	MetricsAddr     string        `json:"metrics_addr" flag:"metrics-addr;;serve prometheus metrics on this address, eg: --metrics-addr :9102"`
	Version         string        `json:"version"`
	Name            string        `json:"name"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" flag:"shutdown-timeout;10s;graceful shutdown timeout"`
}

func (o *Option) String() string {
	bs, _ := json.Marshal(o)
	return string(bs)
}

func (o *Option) EnsureDefaults() {
	if o.ID == "" {
		o.ID, _ = os.Hostname()
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

// PropertiesAsMap parses "a=1,b=2" into a map; malformed pairs are skipped.
func (o *Option) PropertiesAsMap() map[string]any {
	props := map[string]any{}
	if o.Properties == "" {
		return props
	}
	for _, s := range strings.Split(o.Properties, ",") {
		key, value, ok := strings.Cut(s, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		props[key] = strings.TrimSpace(value)
	}
	return props
}

func FromFlags() Option {
	return FromArgs(os.Args[1:])
}

func FromArgs(args []string) Option {
	fs := pflag.NewFlagSet("cargo", pflag.ExitOnError)
	option := Option{}
	if err := flagbind.Bind(fs, &option); err != nil {
		log.Fatalln(err)
	}
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}
	return option
}
