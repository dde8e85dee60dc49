package pgnode

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shmel1k/yblb/internal/util"
)

const (
	DefaultPort         = 5433
	DefaultStateRecheck = 10 * time.Second
)

// Options are the connection settings shared by every node of a cluster.
type Options struct {
	User     string
	Password string
	Database string
	// Port is used for hosts given without a port.
	Port    int
	SSLMode string

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	MaxConnsPerNode int32
	// StateRecheck is how long an observed database state stays cached.
	StateRecheck time.Duration
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.SSLMode == "" {
		o.SSLMode = "prefer"
	}
	if o.StateRecheck <= 0 {
		o.StateRecheck = DefaultStateRecheck
	}

	return o
}

// SplitHost splits an optional port off the address. IPv6 addresses
// might be given with or without brackets.
func SplitHost(addr string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err == nil {
		if port, perr := strconv.Atoi(portStr); perr == nil {
			return util.NormalizeHost(host), port
		}
	}

	return util.NormalizeHost(addr), defaultPort
}

func (o Options) connString(host string, port int) string {
	return fmt.Sprintf("host=%s port=%d sslmode=%s", host, port, o.SSLMode)
}

func (o Options) connConfig(host string, port int) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(o.connString(host, port))
	if err != nil {
		return nil, err
	}

	cfg.User = o.User
	cfg.Password = o.Password
	cfg.Database = o.Database
	if o.ConnectTimeout > 0 {
		cfg.ConnectTimeout = o.ConnectTimeout
	}

	return cfg, nil
}

func (o Options) poolConfig(host string, port int) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(o.connString(host, port))
	if err != nil {
		return nil, err
	}

	cfg.ConnConfig.User = o.User
	cfg.ConnConfig.Password = o.Password
	cfg.ConnConfig.Database = o.Database
	if o.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = o.ConnectTimeout
	}
	if o.MaxConnsPerNode > 0 {
		cfg.MaxConns = o.MaxConnsPerNode
	}
	cfg.MinConns = 0

	return cfg, nil
}
