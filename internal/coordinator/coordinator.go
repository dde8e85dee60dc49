package coordinator

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
	"github.com/shmel1k/yblb/internal/config"
	"github.com/shmel1k/yblb/internal/hook"
	"github.com/shmel1k/yblb/internal/pgnode"
	"github.com/shmel1k/yblb/internal/storage"
)

var (
	ErrClusterAlreadyExist = errors.New("cluster with such name already registered")
)

type shutdownTask func()

// Backend opens the connections of a cluster.
type Backend interface {
	ControlDialer(opts pgnode.Options, logger zerolog.Logger) cluster.ControlDialer
	PoolFactory(opts pgnode.Options, logger zerolog.Logger) balancer.PoolFactory
}

type pgBackend struct{}

func (pgBackend) ControlDialer(opts pgnode.Options, logger zerolog.Logger) cluster.ControlDialer {
	d := pgnode.NewDialer(opts)
	d.SetLogger(logger)

	return d
}

func (pgBackend) PoolFactory(opts pgnode.Options, logger zerolog.Logger) balancer.PoolFactory {
	return pgnode.Factory(opts, logger)
}

type Coordinator struct {
	logger  zerolog.Logger
	backend Backend

	// routers contains registered clusters
	// which yblb balances connections to.
	mu      sync.RWMutex
	routers map[string]*balancer.Router

	// shutdownQueue contains all shutdown tasks to be
	// executed when coordinator is going to exit.
	shutdownQueue []shutdownTask
}

func New(logger zerolog.Logger) *Coordinator {
	return NewWithBackend(logger, pgBackend{})
}

func NewWithBackend(logger zerolog.Logger, backend Backend) *Coordinator {
	return &Coordinator{
		logger:  logger,
		backend: backend,
		routers: make(map[string]*balancer.Router),
	}
}

func (c *Coordinator) RegisterCluster(name string, relStorage storage.Storage, cfg config.ClusterConfig, globalCfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exist := c.routers[name]; exist {
		return ErrClusterAlreadyExist
	}

	opts, err := cfg.RouterOptions(name)
	if err != nil {
		return err
	}
	opts.DiscoveryTimeout = globalCfg.YBLB.DiscoveryTimeout

	clusterLogger := c.logger.With().Str("cluster", name).Logger()
	nodeOpts := cfg.Connection.NodeOptions()

	registry := cluster.NewRegistry(name, cfg.Hosts, c.backend.ControlDialer(nodeOpts, clusterLogger))
	registry.SetLogger(clusterLogger)

	router := balancer.NewRouter(opts, registry, c.backend.PoolFactory(nodeOpts, clusterLogger))
	router.SetLogger(clusterLogger)
	router.SetRecorder(&recorder{
		db:     relStorage,
		hooker: initHooker(globalCfg, clusterLogger),
		logger: clusterLogger,
	})
	c.routers[name] = router
	c.addShutdownTask(router.Close)

	mon := balancer.NewMonitor(router, globalCfg.YBLB.DiscoveryPollTime, globalCfg.YBLB.DiscoveryTimeout, clusterLogger)
	c.addShutdownTask(mon.Shutdown)
	mon.Serve()

	clusterLogger.Info().
		Strs("hosts", cfg.Hosts).
		Str("policy", string(opts.Policy)).
		Str("intent", string(opts.SessionIntent)).
		Str("topology_keys", opts.Classifier.String()).
		Msg("Cluster has been registered")

	return nil
}

// Router returns the router of the registered cluster.
func (c *Coordinator) Router(name string) (*balancer.Router, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.routers[name]
	return r, ok
}

func (c *Coordinator) Clusters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.routers))
	for name := range c.routers {
		names = append(names, name)
	}

	return names
}

func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	queue := c.shutdownQueue
	c.shutdownQueue = nil
	c.mu.Unlock()

	for i := len(queue) - 1; i >= 0; i-- {
		task := queue[i]
		task()
	}
}

func (c *Coordinator) addShutdownTask(task shutdownTask) {
	c.shutdownQueue = append(c.shutdownQueue, task)
}

func initHooker(cfg *config.Config, logger zerolog.Logger) *hook.Hooker {
	hooksCfg := cfg.YBLB.Hooks
	hooker := hook.NewHooker(hooksCfg.Shell, logger)
	hooker.SetTimeout(hooksCfg.Timeout)
	hooker.SetTimeoutAsync(hooksCfg.TimeoutAsync)

	hooker.AddHook(hook.HookNoSuitableHost, hooksCfg.OnNoSuitableHost...)

	return hooker
}
