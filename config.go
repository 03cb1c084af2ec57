package polarhouse

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TransportKind selects how queries reach the server.
type TransportKind string

const (
	// TransportNative is the persistent binary protocol connection.
	TransportNative TransportKind = "native"
	// TransportHTTP is the stateless HTTP interface.
	TransportHTTP TransportKind = "http"
)

const (
	defaultNativePort = 9000
	defaultHTTPPort   = 8123
	defaultHTTPSPort  = 8443

	defaultConnectTimeout  = 10 * time.Second
	defaultCacheMemEntries = 64
)

// Config is the resolved connection configuration. It is immutable once a
// client has been constructed from it.
type Config struct {
	Transport TransportKind
	Host      string
	Port      int
	Secure    bool // https for the HTTP transport

	Database string
	User     string
	Password string

	Caching         bool
	CacheDir        string
	CacheMemEntries int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func (c *Config) hostPort() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Option adjusts the configuration of a client under construction.
type Option func(*Config)

// WithCredentials sets the username and password passed to the transport.
func WithCredentials(user, password string) Option {
	return func(c *Config) {
		c.User = user
		c.Password = password
	}
}

// WithDatabase sets the default database for queries.
func WithDatabase(database string) Option {
	return func(c *Config) { c.Database = database }
}

// WithCaching enables or disables the persistent query cache.
func WithCaching(enabled bool) Option {
	return func(c *Config) { c.Caching = enabled }
}

// WithCacheDir overrides the cache root directory.
func WithCacheDir(dir string) Option {
	return func(c *Config) { c.CacheDir = dir }
}

// WithCacheMemoryEntries sets the size of the in-memory cache tier.
func WithCacheMemoryEntries(n int) Option {
	return func(c *Config) { c.CacheMemEntries = n }
}

// WithConnectTimeout bounds dialing and the handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithReadTimeout bounds each read on the connection. Zero means no limit.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

// parseAddress resolves an address string into transport, host and port.
// "host:port" or a bare host selects the native protocol;
// "http://host:port" and "https://host:port" select the HTTP interface.
func parseAddress(address string, cfg *Config) error {
	if address == "" {
		return configError(ErrCodeInvalidAddress, nil, "empty address")
	}
	if !strings.Contains(address, "://") {
		cfg.Transport = TransportNative
		host, portStr, err := net.SplitHostPort(address)
		if err != nil {
			cfg.Host = address
			cfg.Port = defaultNativePort
			return nil
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return configError(ErrCodeInvalidAddress, nil, "invalid port in address %q", address)
		}
		cfg.Host = host
		cfg.Port = port
		return nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return configError(ErrCodeInvalidAddress, err, "invalid address %q", address)
	}
	switch u.Scheme {
	case "http":
		cfg.Transport = TransportHTTP
		cfg.Port = defaultHTTPPort
	case "https":
		cfg.Transport = TransportHTTP
		cfg.Secure = true
		cfg.Port = defaultHTTPSPort
	case "clickhouse", "native":
		cfg.Transport = TransportNative
		cfg.Port = defaultNativePort
	default:
		return configError(ErrCodeInvalidAddress, nil, "unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return configError(ErrCodeInvalidAddress, nil, "missing host in address %q", address)
	}
	cfg.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return configError(ErrCodeInvalidAddress, nil, "invalid port in address %q", address)
		}
		cfg.Port = port
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		cfg.Database = db
	}
	return nil
}

// clientConfig is the optional configuration file, read from
// $POLARHOUSE_CONFIG or ~/.polarhouse/config.toml. It provides defaults
// only; explicit options always win.
type clientConfig struct {
	Common clientConfigCommon `toml:"common"`
}

type clientConfigCommon struct {
	LogLevel         string `toml:"log_level"`
	CacheDir         string `toml:"cache_dir"`
	ConnectTimeoutMs int    `toml:"connect_timeout_ms"`
	ReadTimeoutMs    int    `toml:"read_timeout_ms"`
}

func clientConfigPath() string {
	if p := os.Getenv("POLARHOUSE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".polarhouse", "config.toml")
}

func loadClientConfig(path string) (*clientConfig, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, configError(ErrCodeInvalidConfig, err, "cannot read client config %s", path)
	}
	var cc clientConfig
	if _, err := toml.DecodeFile(path, &cc); err != nil {
		return nil, configError(ErrCodeInvalidConfig, err, "malformed client config %s", path)
	}
	return &cc, nil
}

// applyClientConfig fills unset fields of cfg from the configuration file.
func applyClientConfig(cfg *Config) {
	cc, err := loadClientConfig(clientConfigPath())
	if err != nil {
		logger.Warnf("ignoring client config: %v", err)
		return
	}
	if cc == nil {
		return
	}
	if cc.Common.LogLevel != "" {
		if err := logger.SetLogLevel(cc.Common.LogLevel); err != nil {
			logger.Warnf("invalid log level %q in client config", cc.Common.LogLevel)
		}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cc.Common.CacheDir
	}
	if cfg.ConnectTimeout == 0 && cc.Common.ConnectTimeoutMs > 0 {
		cfg.ConnectTimeout = time.Duration(cc.Common.ConnectTimeoutMs) * time.Millisecond
	}
	if cfg.ReadTimeout == 0 && cc.Common.ReadTimeoutMs > 0 {
		cfg.ReadTimeout = time.Duration(cc.Common.ReadTimeoutMs) * time.Millisecond
	}
}
