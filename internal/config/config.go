package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/pgnode"
	"github.com/shmel1k/yblb/internal/placement"
	"github.com/shmel1k/yblb/internal/util"
)

const (
	defaultPort              = ":8080"
	defaultLogLevel          = "debug"
	defaultDiscoveryPollTime = 5 * time.Second
	defaultDiscoveryTimeout  = 10 * time.Second

	defaultStorageFilename       = "yblb.db"
	defaultStorageConnectTimeout = 1 * time.Second
	defaultStorageQueryTimeout   = 1 * time.Second

	defaultHooksShell        = "bash"
	defaultHooksTimeout      = 5 * time.Second
	defaultHooksTimeoutAsync = 10 * time.Minute

	defaultUser            = "yugabyte"
	defaultPassword        = ""
	defaultDatabase        = "yugabyte"
	defaultSSLMode         = "prefer"
	defaultConnectTimeout  = 5 * time.Second
	defaultRequestTimeout  = 5 * time.Second
	defaultMaxConnsPerNode = 10
)

var (
	ErrNoHosts = errors.New("option 'hosts' must not be empty")
)

type Config struct {
	YBLB struct {
		Port              string        `yaml:"port"`
		DiscoveryPollTime time.Duration `yaml:"discovery_poll_time"`
		DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
		Logging           Logging       `yaml:"logging"`
		Storage           Storage       `yaml:"storage"`
		Hooks             Hooks         `yaml:"hooks"`
	} `yaml:"yblb"`

	// Connection contains the default options
	// of every cluster.
	Connection *ConnectConfig `yaml:"connection,omitempty"`

	Clusters map[string]ClusterConfig `yaml:"clusters"`
}

type Logging struct {
	Level              string `yaml:"level"`
	SysLogEnabled      bool   `yaml:"syslog_enabled"`
	FileLoggingEnabled bool   `yaml:"file_logging_enabled"`
	Filename           string `yaml:"filename"`
	MaxSize            int    `yaml:"max_size"`    // megabytes
	MaxBackups         int    `yaml:"max_backups"` // files
	MaxAge             int    `yaml:"max_age"`     // days
}

type Storage struct {
	Filename       string        `yaml:"filename"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

type Hooks struct {
	Shell            string        `yaml:"shell"`
	Timeout          time.Duration `yaml:"timeout"`
	TimeoutAsync     time.Duration `yaml:"timeout_async"`
	OnNoSuitableHost []string      `yaml:"on_no_suitable_host"`
}

type ConnectConfig struct {
	User            *string        `yaml:"user"`
	Password        *string        `yaml:"password"`
	Database        *string        `yaml:"database"`
	Port            *int           `yaml:"port"`
	SSLMode         *string        `yaml:"sslmode"`
	ConnectTimeout  *time.Duration `yaml:"connect_timeout"`
	RequestTimeout  *time.Duration `yaml:"request_timeout"`
	MaxConnsPerNode *int           `yaml:"max_conns_per_node"`
	StateRecheck    *time.Duration `yaml:"state_recheck"`
}

// NodeOptions converts the connection settings to the options of the node pools.
func (c *ConnectConfig) NodeOptions() pgnode.Options {
	opts := pgnode.Options{}
	if c == nil {
		return opts
	}
	if c.User != nil {
		opts.User = *c.User
	}
	if c.Password != nil {
		opts.Password = *c.Password
	}
	if c.Database != nil {
		opts.Database = *c.Database
	}
	if c.Port != nil {
		opts.Port = *c.Port
	}
	if c.SSLMode != nil {
		opts.SSLMode = *c.SSLMode
	}
	if c.ConnectTimeout != nil {
		opts.ConnectTimeout = *c.ConnectTimeout
	}
	if c.RequestTimeout != nil {
		opts.QueryTimeout = *c.RequestTimeout
	}
	if c.MaxConnsPerNode != nil {
		opts.MaxConnsPerNode = int32(*c.MaxConnsPerNode)
	}
	if c.StateRecheck != nil {
		opts.StateRecheck = *c.StateRecheck
	}

	return opts
}

type ClusterConfig struct {
	// Hosts are the bootstrap addresses used to discover the cluster.
	Hosts []string `yaml:"hosts"`

	Connection *ConnectConfig `yaml:"connection,omitempty"`

	LoadBalance                string         `yaml:"load_balance"`
	RefreshInterval            *time.Duration `yaml:"refresh_interval"`
	TopologyKeys               string         `yaml:"topology_keys"`
	FallbackToTopologyKeysOnly bool           `yaml:"fallback_to_topology_keys_only"`
	TargetSessionAttrs         string         `yaml:"target_session_attrs"`
	TieBreak                   string         `yaml:"tie_break"`
	FallbackScope              string         `yaml:"fallback_scope"`
}

// RouterOptions parses the balancing settings of the cluster.
func (c *ClusterConfig) RouterOptions(name string) (balancer.Options, error) {
	opts := balancer.Options{
		Name:                       name,
		FallbackToTopologyKeysOnly: c.FallbackToTopologyKeysOnly,
	}

	var err error
	if opts.Policy, err = balancer.ParseLoadBalancePolicy(c.LoadBalance); err != nil {
		return opts, err
	}
	if opts.SessionIntent, err = balancer.ResolveSessionIntent(c.TargetSessionAttrs); err != nil {
		return opts, err
	}
	if opts.TieBreak, err = balancer.ParseTieBreak(c.TieBreak); err != nil {
		return opts, err
	}
	if opts.FallbackScope, err = balancer.ParseFallbackScope(c.FallbackScope); err != nil {
		return opts, err
	}
	if c.TopologyKeys != "" {
		if opts.Classifier, err = placement.Parse(c.TopologyKeys); err != nil {
			return opts, err
		}
	}
	if c.RefreshInterval != nil {
		opts.RefreshInterval = balancer.ClampRefreshInterval(*c.RefreshInterval)
	}

	return opts, nil
}

func Setup(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	data, err := ioutil.ReadAll(file)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.withDefaults()

	err = cfg.validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) withDefaults() {
	if c == nil {
		return
	}

	base := &c.YBLB
	if base.Port == "" {
		base.Port = defaultPort
	}
	if base.Logging.Level == "" {
		base.Logging.Level = defaultLogLevel
	}
	if base.DiscoveryPollTime == 0 {
		base.DiscoveryPollTime = defaultDiscoveryPollTime
	}
	if base.DiscoveryTimeout == 0 {
		base.DiscoveryTimeout = defaultDiscoveryTimeout
	}

	storage := &base.Storage
	if storage.Filename == "" {
		storage.Filename = defaultStorageFilename
	}
	if storage.ConnectTimeout == 0 {
		storage.ConnectTimeout = defaultStorageConnectTimeout
	}
	if storage.QueryTimeout == 0 {
		storage.QueryTimeout = defaultStorageQueryTimeout
	}

	hooks := &base.Hooks
	if hooks.Shell == "" {
		hooks.Shell = defaultHooksShell
	}
	if hooks.Timeout == 0 {
		hooks.Timeout = defaultHooksTimeout
	}
	if hooks.TimeoutAsync == 0 {
		hooks.TimeoutAsync = defaultHooksTimeoutAsync
	}

	if c.Connection == nil {
		c.Connection = &ConnectConfig{}
	}
	connection := c.Connection
	if connection.User == nil {
		connection.User = util.NewString(defaultUser)
	}
	if connection.Password == nil {
		connection.Password = util.NewString(defaultPassword)
	}
	if connection.Database == nil {
		connection.Database = util.NewString(defaultDatabase)
	}
	if connection.Port == nil {
		connection.Port = util.NewInt(pgnode.DefaultPort)
	}
	if connection.SSLMode == nil {
		connection.SSLMode = util.NewString(defaultSSLMode)
	}
	if connection.ConnectTimeout == nil {
		connection.ConnectTimeout = util.NewDuration(defaultConnectTimeout)
	}
	if connection.RequestTimeout == nil {
		connection.RequestTimeout = util.NewDuration(defaultRequestTimeout)
	}
	if connection.MaxConnsPerNode == nil {
		connection.MaxConnsPerNode = util.NewInt(defaultMaxConnsPerNode)
	}
	if connection.StateRecheck == nil {
		connection.StateRecheck = util.NewDuration(pgnode.DefaultStateRecheck)
	}

	for name, cluster := range c.Clusters {
		cluster.Connection = mergeConnection(cluster.Connection, connection)
		c.Clusters[name] = cluster
	}
}

// mergeConnection fills the options missing in the cluster settings with the global ones.
func mergeConnection(own, global *ConnectConfig) *ConnectConfig {
	if own == nil {
		cp := *global
		return &cp
	}

	merged := *own
	if merged.User == nil {
		merged.User = global.User
	}
	if merged.Password == nil {
		merged.Password = global.Password
	}
	if merged.Database == nil {
		merged.Database = global.Database
	}
	if merged.Port == nil {
		merged.Port = global.Port
	}
	if merged.SSLMode == nil {
		merged.SSLMode = global.SSLMode
	}
	if merged.ConnectTimeout == nil {
		merged.ConnectTimeout = global.ConnectTimeout
	}
	if merged.RequestTimeout == nil {
		merged.RequestTimeout = global.RequestTimeout
	}
	if merged.MaxConnsPerNode == nil {
		merged.MaxConnsPerNode = global.MaxConnsPerNode
	}
	if merged.StateRecheck == nil {
		merged.StateRecheck = global.StateRecheck
	}

	return &merged
}

func (c *Config) validate() error {
	for name, cluster := range c.Clusters {
		if len(cluster.Hosts) == 0 {
			return fmt.Errorf("cluster %s: %w", name, ErrNoHosts)
		}
		if _, err := cluster.RouterOptions(name); err != nil {
			return fmt.Errorf("cluster %s: %w", name, err)
		}
		if conn := cluster.Connection; conn != nil && conn.MaxConnsPerNode != nil && *conn.MaxConnsPerNode <= 0 {
			return fmt.Errorf("cluster %s: option 'max_conns_per_node' must be positive", name)
		}
	}

	return nil
}
