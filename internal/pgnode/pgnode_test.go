package pgnode

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
)

const testDSNEnv = "YBLB_TEST_DSN"

func TestSplitHost(t *testing.T) {
	tests := []struct {
		addr string
		host string
		port int
	}{
		{"10.0.0.1", "10.0.0.1", 5433},
		{"10.0.0.1:5434", "10.0.0.1", 5434},
		{"YB-1.example.com", "yb-1.example.com", 5433},
		{"[fd00::1]:5434", "fd00::1", 5434},
		{"[fd00::1]", "fd00::1", 5433},
		{"fd00::1", "fd00::1", 5433},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			host, port := SplitHost(tt.addr, 5433)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestOptions_Configs(t *testing.T) {
	opts := Options{
		User:            "yugabyte",
		Password:        "pass word",
		Database:        "yugabyte",
		ConnectTimeout:  3 * time.Second,
		MaxConnsPerNode: 7,
	}.withDefaults()

	assert.Equal(t, DefaultPort, opts.Port)
	assert.Equal(t, DefaultStateRecheck, opts.StateRecheck)

	cc, err := opts.connConfig("10.0.0.1", 5433)
	require.Nil(t, err)
	assert.Equal(t, "10.0.0.1", cc.Host)
	assert.Equal(t, uint16(5433), cc.Port)
	assert.Equal(t, "yugabyte", cc.User)
	assert.Equal(t, "pass word", cc.Password)
	assert.Equal(t, 3*time.Second, cc.ConnectTimeout)

	pc, err := opts.poolConfig("fd00::1", 5434)
	require.Nil(t, err)
	assert.Equal(t, "fd00::1", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5434), pc.ConnConfig.Port)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(0), pc.MinConns)
}

func TestPool_CachedStateExpires(t *testing.T) {
	p, err := NewPool(cluster.Node{Address: "10.0.0.1", Port: 5433}, Options{StateRecheck: 20 * time.Millisecond}, zerolog.Nop())
	require.Nil(t, err)
	defer p.Close()

	assert.Equal(t, balancer.StateUnknown, p.CachedState())

	p.setState(balancer.StateStandby)
	assert.Equal(t, balancer.StateStandby, p.CachedState())

	assert.Eventually(t, func() bool {
		return p.CachedState() == balancer.StateUnknown
	}, time.Second, 5*time.Millisecond)
}

func testOptions(t *testing.T) (Options, string) {
	dsn := os.Getenv(testDSNEnv)
	if testing.Short() || dsn == "" {
		t.Skip("test requires a YugabyteDB cluster - set " + testDSNEnv + " to run it.")
	}

	cfg, err := pgx.ParseConfig(dsn)
	require.Nil(t, err)

	return Options{
		User:           cfg.User,
		Password:       cfg.Password,
		Database:       cfg.Database,
		Port:           int(cfg.Port),
		SSLMode:        "disable",
		ConnectTimeout: 5 * time.Second,
		QueryTimeout:   5 * time.Second,
	}, cfg.Host
}

func TestDialer_Servers(t *testing.T) {
	opts, host := testOptions(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := NewDialer(opts).Dial(ctx, host)
	require.Nil(t, err)
	defer conn.Close(ctx)

	servers, err := conn.Servers(ctx)
	require.Nil(t, err)
	require.NotEmpty(t, servers)
	for _, s := range servers {
		assert.NotEmpty(t, s.Host)
		assert.NotZero(t, s.Port)
	}
}

func TestRouter_Live(t *testing.T) {
	opts, host := testOptions(t)

	registry := cluster.NewRegistry("live", []string{host}, NewDialer(opts))
	router := balancer.NewRouter(balancer.Options{
		Name:   "live",
		Policy: balancer.PolicyAny,
	}, registry, Factory(opts, zerolog.Nop()))
	defer router.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := router.Get(ctx, balancer.IntentAny, 10*time.Second)
	require.Nil(t, err)

	raw := conn.(*Conn).Raw()
	var one int
	require.Nil(t, raw.QueryRow(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)

	state, err := conn.QueryState(ctx, 0)
	require.Nil(t, err)
	assert.NotEqual(t, balancer.StateOffline, state)

	router.Return(conn)
	assert.Equal(t, 0, router.TotalLoad())
}
