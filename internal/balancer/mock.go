package balancer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shmel1k/yblb/internal/cluster"
)

var ErrMockNodeDown = errors.New("mock: node is down")

// MockPool is an in-memory NodePool.
type MockPool struct {
	host string

	mu       sync.Mutex
	state    DatabaseState
	openErr  error
	stateErr error
	idle     []Conn
	attempts int
	opened   int
	returned int
	cleared  int
	closed   bool
	// block makes OpenNew wait until the context is done.
	block bool
}

func NewMockPool(host string) *MockPool {
	return &MockPool{
		host:  host,
		state: StatePrimaryReadWrite,
	}
}

func (p *MockPool) Host() string {
	return p.host
}

func (p *MockPool) SetState(state DatabaseState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *MockPool) SetOpenError(err error) {
	p.mu.Lock()
	p.openErr = err
	p.mu.Unlock()
}

func (p *MockPool) SetStateError(err error) {
	p.mu.Lock()
	p.stateErr = err
	p.mu.Unlock()
}

func (p *MockPool) SetBlocking(block bool) {
	p.mu.Lock()
	p.block = block
	p.mu.Unlock()
}

func (p *MockPool) TryGetIdle() (Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) == 0 {
		return nil, false
	}
	conn := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]

	return conn, true
}

func (p *MockPool) OpenNew(ctx context.Context, _ time.Duration) (Conn, error) {
	p.mu.Lock()
	p.attempts++
	block, openErr := p.block, p.openErr
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if openErr != nil {
		return nil, openErr
	}

	p.mu.Lock()
	p.opened++
	p.mu.Unlock()

	return &mockConn{pool: p}, nil
}

func (p *MockPool) Return(conn Conn) {
	p.mu.Lock()
	p.returned++
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// CachedState reports the state only for the connections queried before.
func (p *MockPool) CachedState() DatabaseState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened == 0 || p.stateErr != nil {
		return StateUnknown
	}

	return p.state
}

func (p *MockPool) Clear() {
	p.mu.Lock()
	p.idle = nil
	p.cleared++
	p.mu.Unlock()
}

func (p *MockPool) Close() {
	p.mu.Lock()
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
}

// Attempts returns how many times a new connection has been requested.
func (p *MockPool) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempts
}

func (p *MockPool) Opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.opened
}

func (p *MockPool) Returned() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.returned
}

func (p *MockPool) Cleared() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cleared
}

func (p *MockPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

type mockConn struct {
	pool *MockPool
}

func (c *mockConn) Host() string {
	return c.pool.host
}

func (c *mockConn) QueryState(ctx context.Context, _ time.Duration) (DatabaseState, error) {
	if err := ctx.Err(); err != nil {
		return StateUnknown, err
	}

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	if c.pool.stateErr != nil {
		return StateOffline, c.pool.stateErr
	}

	return c.pool.state, nil
}

// MockPools creates and remembers a MockPool per node.
type MockPools struct {
	mu    sync.Mutex
	pools map[string]*MockPool
	made  int
}

func NewMockPools() *MockPools {
	return &MockPools{pools: make(map[string]*MockPool)}
}

func (m *MockPools) Factory(node cluster.Node) (NodePool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.made++
	p, ok := m.pools[node.Key()]
	if !ok {
		p = NewMockPool(node.Key())
		m.pools[node.Key()] = p
	}

	return p, nil
}

// Get returns the pool of the host creating it in advance when needed,
// so tests can configure it before the node is discovered.
func (m *MockPools) Get(host string) *MockPool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[host]
	if !ok {
		p = NewMockPool(host)
		m.pools[host] = p
	}

	return p
}

// Made returns how many times the factory has been called.
func (m *MockPools) Made() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.made
}
