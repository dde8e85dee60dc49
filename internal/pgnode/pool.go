package pgnode

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
)

const (
	queryInRecovery = "SELECT pg_is_in_recovery()"
	queryReadOnly   = "SHOW default_transaction_read_only"
)

// Pool is a balancer.NodePool backed by pgxpool.
type Pool struct {
	host string
	pool *pgxpool.Pool
	opts Options

	mu        sync.Mutex
	state     balancer.DatabaseState
	checkedAt time.Time

	logger zerolog.Logger
}

// NewPool creates the pool of the node, connections are opened lazily.
func NewPool(node cluster.Node, opts Options, logger zerolog.Logger) (*Pool, error) {
	opts = opts.withDefaults()

	port := node.Port
	if port == 0 {
		port = opts.Port
	}
	cfg, err := opts.poolConfig(node.Address, port)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	return &Pool{
		host:   node.Key(),
		pool:   pool,
		opts:   opts,
		state:  balancer.StateUnknown,
		logger: logger.With().Str("host", node.Address).Logger(),
	}, nil
}

// Factory returns a balancer.PoolFactory creating pgx pools with the options.
func Factory(opts Options, logger zerolog.Logger) balancer.PoolFactory {
	return func(node cluster.Node) (balancer.NodePool, error) {
		return NewPool(node, opts, logger)
	}
}

func (p *Pool) Host() string {
	return p.host
}

func (p *Pool) TryGetIdle() (balancer.Conn, bool) {
	idle := p.pool.AcquireAllIdle(context.Background())
	if len(idle) == 0 {
		return nil, false
	}

	for _, c := range idle[1:] {
		c.Release()
	}

	return &Conn{pool: p, conn: idle[0]}, true
}

func (p *Pool) OpenNew(ctx context.Context, timeout time.Duration) (balancer.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c, err := p.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.setState(balancer.StateOffline)
		}
		return nil, err
	}

	return &Conn{pool: p, conn: c}, nil
}

func (p *Pool) Return(conn balancer.Conn) {
	c, ok := conn.(*Conn)
	if !ok {
		p.logger.Error().Msgf("Unexpected connection type %T returned to the pool", conn)
		return
	}

	c.conn.Release()
}

// CachedState returns the state observed during the recheck period, Unknown otherwise.
func (p *Pool) CachedState() balancer.DatabaseState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.checkedAt.IsZero() || time.Since(p.checkedAt) > p.opts.StateRecheck {
		return balancer.StateUnknown
	}

	return p.state
}

func (p *Pool) setState(state balancer.DatabaseState) {
	p.mu.Lock()
	prev := p.state
	p.state = state
	p.checkedAt = time.Now()
	p.mu.Unlock()

	if prev != state {
		p.logger.Debug().Str("state", string(state)).Str("prev_state", string(prev)).Msg("Database state changed")
	}
}

func (p *Pool) Clear() {
	p.pool.Reset()
}

func (p *Pool) Close() {
	p.pool.Close()
}

// Stat exposes the pgxpool statistics of the node.
func (p *Pool) Stat() *pgxpool.Stat {
	return p.pool.Stat()
}

// Conn is a connection acquired from a Pool.
type Conn struct {
	pool *Pool
	conn *pgxpool.Conn
}

func (c *Conn) Host() string {
	return c.pool.host
}

// Raw gives access to the underlying connection to run queries.
func (c *Conn) Raw() *pgxpool.Conn {
	return c.conn
}

func (c *Conn) QueryState(ctx context.Context, timeout time.Duration) (balancer.DatabaseState, error) {
	if timeout <= 0 {
		timeout = c.pool.opts.QueryTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	state, err := queryState(ctx, c.conn)
	if err != nil {
		c.pool.setState(balancer.StateOffline)
		return balancer.StateOffline, err
	}
	c.pool.setState(state)

	return state, nil
}

func queryState(ctx context.Context, conn *pgxpool.Conn) (balancer.DatabaseState, error) {
	var inRecovery bool
	if err := conn.QueryRow(ctx, queryInRecovery).Scan(&inRecovery); err != nil {
		return balancer.StateUnknown, err
	}
	if inRecovery {
		return balancer.StateStandby, nil
	}

	var readOnly string
	if err := conn.QueryRow(ctx, queryReadOnly).Scan(&readOnly); err != nil {
		return balancer.StateUnknown, err
	}
	if readOnly == "on" {
		return balancer.StatePrimaryReadOnly, nil
	}

	return balancer.StatePrimaryReadWrite, nil
}
