package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/conn-dispatcher/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Mode is what the server does with a connection.
type Mode string

const (
	ModeFiles Mode = "files"
	ModeProxy Mode = "proxy"
)

const (
	DefaultPort      = 8000
	DefaultBacklog   = 1024
	DefaultProxyPort = 80
	envPrefix        = "HTTPSERVER"
)

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	Environment   string `mapstructure:"environment"`
	Strategy      string `mapstructure:"strategy"`
	Workers       int    `mapstructure:"workers"`
	QueueCapacity int    `mapstructure:"queue_capacity"`
	Backlog       int    `mapstructure:"backlog"`
}

type FilesConfig struct {
	Directory string `mapstructure:"directory"`
}

type ProxyConfig struct {
	Target           string `mapstructure:"target"`
	BreakerThreshold int    `mapstructure:"breaker_threshold"`
	BreakerTimeout   string `mapstructure:"breaker_timeout"`
	HealthInterval   string `mapstructure:"health_interval"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Files   FilesConfig   `mapstructure:"files"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"files":          "files.directory",
	"proxy":          "proxy.target",
	"port":           "server.port",
	"strategy":       "server.strategy",
	"num-threads":    "server.workers",
	"queue-capacity": "server.queue_capacity",
	"admin-addr":     "admin.address",
	"log-level":      "logging.level",
}

// RegisterFlags defines every flag Load understands on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("files", "", "serve files from this directory")
	flags.String("proxy", "", "relay connections to host[:port] (port defaults to 80)")
	flags.Int("port", DefaultPort, "TCP port to listen on")
	flags.String("strategy", strategy.NameSerial,
		"concurrency strategy: "+strings.Join(strategy.Names, ", "))
	flags.Int("num-threads", 0, "worker count for the pool strategy")
	flags.Int("queue-capacity", 0, "pool queue bound, 0 for unbounded")
	flags.String("admin-addr", "", "address for /metrics, /health and /ready (empty disables)")
	flags.String("log-level", LogLevelInfo, "debug, info, warn or error")
	flags.String("config", "", "path to a YAML config file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.strategy", strategy.NameSerial)
	v.SetDefault("server.workers", 0)
	v.SetDefault("server.queue_capacity", 0)
	v.SetDefault("server.backlog", DefaultBacklog)
	v.SetDefault("files.directory", "")
	v.SetDefault("proxy.target", "")
	v.SetDefault("proxy.breaker_threshold", 5)
	v.SetDefault("proxy.breaker_timeout", "30s")
	v.SetDefault("proxy.health_interval", "10s")
	v.SetDefault("admin.address", "")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)
}

// Load builds the configuration. flags may be nil; otherwise it should
// have been prepared with RegisterFlags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("config file not found, using defaults, environment and flags")
	} else {
		slog.Debug("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	strategies := make([]interface{}, len(strategy.Names))
	for i, name := range strategy.Names {
		strategies[i] = name
	}

	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Port,
						validation.Required,
						validation.Min(1),
						validation.Max(65535),
					),
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Strategy,
						validation.Required,
						validation.In(strategies...),
					),
					validation.Field(&sc.Workers,
						validation.Min(0),
						validation.When(sc.Strategy == strategy.NamePool,
							validation.Required.Error("the pool strategy needs --num-threads of at least 1"),
						),
					),
					validation.Field(&sc.QueueCapacity, validation.Min(0)),
					validation.Field(&sc.Backlog, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Files,
			validation.By(c.validateMode),
		),
		validation.Field(&c.Proxy,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Target, validation.By(validateTarget)),
					validation.Field(&pc.BreakerThreshold, validation.Required, validation.Min(1)),
					validation.Field(&pc.BreakerTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.HealthInterval, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address, validation.By(validateHostPort)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
	)
}

func (c *Config) validateMode(interface{}) error {
	hasFiles := c.Files.Directory != ""
	hasProxy := c.Proxy.Target != ""

	switch {
	case hasFiles && hasProxy:
		return validation.NewError("validation_conflicting_mode", "set either --files or --proxy, not both")
	case !hasFiles && !hasProxy:
		return validation.NewError("validation_missing_mode", "one of --files or --proxy is required")
	}

	return nil
}

// Mode reports whether the server serves files or relays to a proxy target.
func (c *Config) Mode() Mode {
	if c.Proxy.Target != "" {
		return ModeProxy
	}
	return ModeFiles
}

// ProxyHost splits the proxy target into host and port. The port defaults
// to 80 when the target has none.
func (c *Config) ProxyHost() (string, int) {
	host, port, _ := splitTarget(c.Proxy.Target)
	return host, port
}

// BreakerTimeout is the parsed proxy.breaker_timeout.
func (c *Config) BreakerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Proxy.BreakerTimeout)
	return d
}

// HealthInterval is the parsed proxy.health_interval. Zero disables the
// upstream probe.
func (c *Config) HealthInterval() time.Duration {
	d, _ := time.ParseDuration(c.Proxy.HealthInterval)
	return d
}

func splitTarget(target string) (string, int, error) {
	host, portStr, found := strings.Cut(target, ":")
	if !found {
		return host, DefaultProxyPort, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0, err
	}

	return host, port, nil
}

func validateTarget(value interface{}) error {
	target, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if target == "" {
		return nil
	}

	host, port, err := splitTarget(target)
	if err != nil || port < 1 || port > 65535 {
		return validation.NewError("validation_invalid_port", "port must be a number between 1 and 65535")
	}

	if err := is.Host.Validate(host); err != nil || host == "" {
		return validation.NewError("validation_invalid_host", "invalid host")
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}
