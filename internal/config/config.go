// Package config loads the lrupeer configuration from a YAML file, LRUPEER_*
// environment variables and command-line flags, and watches the file for
// changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/genlru/replication"
)

// EnvPrefix prefixes every environment override, e.g. LRUPEER_CACHE_MAX_SIZE.
const EnvPrefix = "LRUPEER"

// Config is the effective lrupeer configuration.
type Config struct {
	Node        NodeConfig        `mapstructure:"node" yaml:"node"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Replication ReplicationConfig `mapstructure:"replication" yaml:"replication"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type NodeConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

type CacheConfig struct {
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
}

// ReplicationConfig is disabled when Topic is empty.
type ReplicationConfig struct {
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	Peers        []string      `mapstructure:"peers" yaml:"peers"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	MaxLineBytes int           `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	DialAttempts uint          `mapstructure:"dial_attempts" yaml:"dial_attempts"`
}

// MetricsConfig: an empty Addr disables the /metrics endpoint.
type MetricsConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Validate checks the values New/Resize would reject later.
func (c Config) Validate() error {
	var errs []error
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_size must be > 0, got %d", c.Cache.MaxSize))
	}
	if t := c.Replication.Topic; t != "" && len(t) < replication.MinTopicLen {
		errs = append(errs, fmt.Errorf("replication.topic must have at least %d characters", replication.MinTopicLen))
	}
	if c.Replication.QueueSize < 0 {
		errs = append(errs, errors.New("replication.queue_size must be >= 0"))
	}
	if c.Replication.MaxLineBytes < 0 {
		errs = append(errs, errors.New("replication.max_line_bytes must be >= 0"))
	}
	if c.Replication.Topic != "" && c.Replication.Listen == "" && len(c.Replication.Peers) == 0 {
		errs = append(errs, errors.New("replication needs a listen address or at least one peer"))
	}
	return errors.Join(errs...)
}

// YAML renders the configuration as a YAML document.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Manager loads the configuration and reloads it when the file changes.
type Manager struct {
	v   *viper.Viper
	log *zerolog.Logger

	mu        sync.RWMutex
	cfg       Config
	callbacks []func(old, cur Config)
	watching  bool
}

// NewManager prepares a viper instance for path. An empty path looks for
// lrupeer.yaml in the working directory and tolerates its absence.
func NewManager(path string, log *zerolog.Logger) *Manager {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lrupeer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Manager{v: v, log: log}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.name", "lrupeer")
	v.SetDefault("cache.max_size", 10_000)
	v.SetDefault("replication.topic", "")
	v.SetDefault("replication.listen", "")
	v.SetDefault("replication.peers", []string{})
	v.SetDefault("replication.queue_size", replication.DefaultQueueSize)
	v.SetDefault("replication.max_line_bytes", replication.DefaultMaxLineBytes)
	v.SetDefault("replication.dial_timeout", 5*time.Second)
	v.SetDefault("replication.dial_attempts", 5)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.namespace", "lrupeer")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// SetLogger replaces the logger used for reload events. Commands build their
// logger from the loaded configuration, so it arrives after NewManager.
func (m *Manager) SetLogger(log *zerolog.Logger) {
	if log == nil {
		return
	}
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

func (m *Manager) logger() *zerolog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}

// Viper exposes the underlying instance so commands can bind flags.
func (m *Manager) Viper() *viper.Viper { return m.v }

// Load reads the file (if any), applies env and flag overrides and validates.
func (m *Manager) Load() error {
	cfg, err := m.read()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Config returns the last successfully loaded configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// ConfigFileUsed returns the file path, or "" when running without a file.
func (m *Manager) ConfigFileUsed() string { return m.v.ConfigFileUsed() }

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(old, cur Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Watch reloads the configuration whenever the file changes. Invalid
// revisions are logged and ignored. Watch is a no-op without a file.
func (m *Manager) Watch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watching || m.v.ConfigFileUsed() == "" {
		return
	}
	m.watching = true

	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.logger().Debug().Str("op", e.Op.String()).Str("file", e.Name).Msg("config change detected")
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		m.reload()
	})
	m.v.WatchConfig()
}

func (m *Manager) reload() {
	cfg, err := m.read()
	if err != nil {
		m.logger().Warn().Err(err).Msg("config reload rejected")
		return
	}

	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	callbacks := append([]func(old, cur Config){}, m.callbacks...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(old, cfg)
	}
}

func (m *Manager) read() (Config, error) {
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", m.v.ConfigFileUsed(), err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
