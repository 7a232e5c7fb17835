package deltaconn

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls how the SDK connects.
type Config struct {
	// Endpoints are tried round-robin within one attempt cycle.
	Endpoints []string `yaml:"endpoints"`
	// Local selects the unbounded retry policy.
	Local bool `yaml:"local"`
	// MaxRetries bounds full passes through Endpoints when Local is false.
	MaxRetries int `yaml:"max_retries"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	// HTTPBaseURL serves cache misses and static sessions, e.g. "http://localhost:8501/_stcore".
	HTTPBaseURL string `yaml:"http_base_url"`
	// CacheSize caps remembered cacheable messages. Zero disables the cache.
	CacheSize int `yaml:"cache_size"`
	// StaticSessionID switches Run to static mode over HTTP.
	StaticSessionID string `yaml:"static_session_id"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		ConnectTimeout:   time.Second,
		RetryBackoff:     500 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		CacheSize:        256,
	}
}

// LoadConfig reads the configuration from the given YAML file path on top
// of DefaultConfig. If the file does not exist, the defaults are returned.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, WrapError(ErrorInvalidConfig, "read config", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, WrapError(ErrorInvalidConfig, "parse config", err)
	}
	return cfg, nil
}

// Validate checks that the config can drive a connection.
func (c Config) Validate() error {
	if c.StaticSessionID != "" {
		if c.HTTPBaseURL == "" {
			return NewError(ErrorInvalidConfig, "static session requires http_base_url")
		}
		return nil
	}
	if len(c.Endpoints) == 0 {
		return NewError(ErrorInvalidConfig, "no endpoints")
	}
	for _, e := range c.Endpoints {
		u, err := url.Parse(e)
		if err != nil {
			return WrapError(ErrorInvalidConfig, fmt.Sprintf("endpoint %q", e), err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return NewError(ErrorInvalidConfig, fmt.Sprintf("endpoint %q: scheme must be ws or wss", e))
		}
	}
	if !c.Local && c.MaxRetries <= 0 {
		return NewError(ErrorInvalidConfig, "max_retries must be positive for remote targets")
	}
	if c.ConnectTimeout <= 0 {
		return NewError(ErrorInvalidConfig, "connect_timeout must be positive")
	}
	return nil
}

// retryBound returns the number of attempt cycles allowed, or ok=false when unbounded.
func (c Config) retryBound() (n int, ok bool) {
	if c.Local {
		return 0, false
	}
	return c.MaxRetries, true
}

// IsLocalEndpoint reports whether uri points at the same machine.
func IsLocalEndpoint(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
