// Package config provides production-grade configuration management for
// pncore. It supports JSON-based configuration loading with safe defaults
// for a context pool driving many concurrent PubNub-protocol transactions.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every tunable parameter for a context pool: identity
// defaults, transport options, keep-alive budget, proxy defaults, and DNS
// behaviour (§3 Context attributes). The struct is designed to be loaded
// once at startup and then shared read-only across goroutines.
type Config struct {
	// PublishKey / SubscribeKey are the default keys assigned to a context
	// at allocation time; callers may override per-context via Context.Init.
	PublishKey   string `json:"publish_key"`
	SubscribeKey string `json:"subscribe_key"`

	// UserID is the default identity string (the "uuid"/"user_id" alias of
	// §3); empty means "no identity" until the caller sets one.
	UserID string `json:"user_id"`

	// Origin is the REST origin hostname; defaults to pubsub.pubnub.com.
	Origin string `json:"origin"`
	// Port is the TCP port used for the origin connection.
	Port int `json:"port"`

	// NumberOfContexts controls how many contexts the pool maintains.
	// Keep this <= CtxMax when UseStaticPool is set.
	NumberOfContexts int `json:"number_of_contexts"`

	// UseStaticPool selects the §4.7 allocation strategy: true uses a fixed
	// CTX_MAX-sized array, false allocates contexts on the heap on demand.
	UseStaticPool bool `json:"use_static_pool"`
	// CtxMax bounds the static pool size (default 2, per §4.7).
	CtxMax int `json:"ctx_max"`

	// TransactionTimeout bounds the total wall-clock time of one
	// transaction (§5: default 310s, minimum 10s).
	TransactionTimeout time.Duration `json:"transaction_timeout"`
	// WaitConnectTimeout bounds the TCP handshake (§4.4).
	WaitConnectTimeout time.Duration `json:"wait_connect_timeout"`
	// MaxRetries is the number of times a write on a reused Keep-Alive
	// socket is retried after a transparent reconnect (§4.4).
	MaxRetries int `json:"max_retries"`

	// UseSSL / FallbackSSL / IgnoreHandshakeErrors / UseSystemCertStore are
	// the §3 transport-option flags.
	UseSSL                bool   `json:"use_ssl"`
	FallbackSSL           bool   `json:"fallback_ssl"`
	IgnoreHandshakeErrors bool   `json:"ignore_handshake_errors"`
	UseSystemCertStore    bool   `json:"use_system_cert_store"`
	CACertFile            string `json:"ca_cert_file"`
	CACertDir             string `json:"ca_cert_dir"`

	// KeepAlive / KeepAliveTimeout / KeepAliveMaxOps implement the §4.4
	// Keep-Alive pool-of-one budget.
	KeepAlive        bool          `json:"keep_alive"`
	KeepAliveTimeout time.Duration `json:"keep_alive_timeout"`
	KeepAliveMaxOps  int           `json:"keep_alive_max_ops"`

	// IPv6Preferred selects IPv6-first address ordering in the connection
	// engine; false means IPv4-first (§3 IPv4-only or IPv6-preferred).
	IPv6Preferred bool `json:"ipv6_preferred"`

	// DNSServers is a configurable, rotating list of DNS resolver
	// addresses (§4.4 DNS). Empty uses the system resolver.
	DNSServers []string `json:"dns_servers"`
	// DNSRetries bounds server-rotation attempts on resolution failure.
	DNSRetries int `json:"dns_retries"`

	// ProxyFile is the path to a newline-delimited file of proxy
	// descriptors (see the proxy package). Leave empty to run direct.
	ProxyFile string `json:"proxy_file"`

	// GzipRequests enables Accept-Encoding: gzip and, where the endpoint
	// allows it, gzip-compressed publish bodies (§4.5 body policy).
	GzipRequests bool `json:"gzip_requests"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a
// Config. Returns an error if the file cannot be opened or the JSON is
// malformed; unknown fields are rejected to catch typos early.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return &cfg, nil
}

// DefaultConfig returns a *Config pre-filled with the defaults implied by
// §3/§4/§5. Each call returns a fresh independent copy; callers may mutate
// it freely before use.
func DefaultConfig() *Config {
	return &Config{
		Origin:                "pubsub.pubnub.com",
		Port:                  80,
		NumberOfContexts:      2,
		UseStaticPool:         true,
		CtxMax:                2,
		TransactionTimeout:    310 * time.Second,
		WaitConnectTimeout:    10 * time.Second,
		MaxRetries:            1,
		UseSSL:                true,
		FallbackSSL:           false,
		IgnoreHandshakeErrors: false,
		UseSystemCertStore:    true,
		KeepAlive:             true,
		KeepAliveTimeout:      300 * time.Second,
		KeepAliveMaxOps:       1000,
		IPv6Preferred:         false,
		DNSRetries:            2,
		GzipRequests:          true,
	}
}

// Validate applies the minimums the specification calls out explicitly
// (transaction timeout floor of 10s, CtxMax >= 1) and returns a descriptive
// error for anything a caller got wrong before it reaches the pool.
func (c *Config) Validate() error {
	if c.TransactionTimeout < 10*time.Second {
		return fmt.Errorf("config: transaction_timeout must be >= 10s, got %v", c.TransactionTimeout)
	}
	if c.UseStaticPool && c.CtxMax < 1 {
		return fmt.Errorf("config: ctx_max must be >= 1 when use_static_pool is set, got %d", c.CtxMax)
	}
	if c.Origin == "" {
		return fmt.Errorf("config: origin must not be empty")
	}
	return nil
}
