package pgnode

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/shmel1k/yblb/internal/cluster"
)

const queryServers = "SELECT * FROM yb_servers()"

// Dialer opens control connections to query the cluster membership.
type Dialer struct {
	opts   Options
	logger zerolog.Logger
}

func NewDialer(opts Options) *Dialer {
	return &Dialer{
		opts:   opts.withDefaults(),
		logger: zerolog.Nop(),
	}
}

func (d *Dialer) SetLogger(logger zerolog.Logger) {
	d.logger = logger
}

func (d *Dialer) Dial(ctx context.Context, addr string) (cluster.ControlConn, error) {
	host, port := SplitHost(addr, d.opts.Port)
	cfg, err := d.opts.connConfig(host, port)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.logger.Debug().Str("host", host).Int("port", port).Msg("Control connection established")

	return &controlConn{
		host:         host,
		conn:         conn,
		queryTimeout: d.opts.QueryTimeout,
	}, nil
}

type controlConn struct {
	host         string
	conn         *pgx.Conn
	queryTimeout time.Duration
}

func (c *controlConn) Host() string {
	return c.host
}

func (c *controlConn) Servers(ctx context.Context) ([]cluster.ServerInfo, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	rows, err := c.conn.Query(ctx, queryServers)
	if err != nil {
		return nil, err
	}

	res, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	return cluster.ParseServers(res)
}

func (c *controlConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
