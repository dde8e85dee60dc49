package cluster

import (
	"context"
	"errors"
	"sync"
)

var ErrMockHostDown = errors.New("mock: host is down")

// MockDialer is an in-memory cluster used by tests: every host which is
// not marked down answers the membership query with the same servers.
type MockDialer struct {
	mu      sync.Mutex
	servers []ServerInfo
	down    map[string]bool
	hang    map[string]chan struct{}
	dials   []string
}

func NewMockDialer(servers ...ServerInfo) *MockDialer {
	return &MockDialer{
		servers: servers,
		down:    make(map[string]bool),
		hang:    make(map[string]chan struct{}),
	}
}

func (d *MockDialer) SetServers(servers ...ServerInfo) {
	d.mu.Lock()
	d.servers = servers
	d.mu.Unlock()
}

func (d *MockDialer) SetDown(host string, down bool) {
	d.mu.Lock()
	d.down[host] = down
	d.mu.Unlock()
}

// Hang makes the dials to host block until release is called
// or the dial context is done.
func (d *MockDialer) Hang(host string) (release func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.hang[host] = ch
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.hang, host)
			d.mu.Unlock()
			close(ch)
		})
	}
}

// Dials returns the hosts dialed so far in order.
func (d *MockDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst := make([]string, len(d.dials))
	copy(dst, d.dials)

	return dst
}

func (d *MockDialer) Dial(ctx context.Context, host string) (ControlConn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, host)
	hang := d.hang[host]
	d.mu.Unlock()

	if hang != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-hang:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.down[host] {
		return nil, ErrMockHostDown
	}

	servers := make([]ServerInfo, len(d.servers))
	copy(servers, d.servers)

	return &mockConn{host: host, servers: servers}, nil
}

type mockConn struct {
	host    string
	servers []ServerInfo
}

func (c *mockConn) Host() string {
	return c.host
}

func (c *mockConn) Servers(_ context.Context) ([]ServerInfo, error) {
	if len(c.servers) == 0 {
		return nil, ErrEmptyMembership
	}

	return c.servers, nil
}

func (c *mockConn) Close(_ context.Context) error {
	return nil
}
