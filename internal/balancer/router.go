package balancer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shmel1k/yblb/internal/cluster"
	"github.com/shmel1k/yblb/internal/metrics"
	"github.com/shmel1k/yblb/internal/placement"
	"github.com/shmel1k/yblb/internal/util"
)

const (
	DefaultRefreshInterval  = 300 * time.Second
	MaxRefreshInterval      = 600 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
)

// Conn is a physical connection owned by a NodePool.
type Conn interface {
	// Host is the address of the node the connection belongs to.
	Host() string
	// QueryState asks the node about its state, refreshing the state cache of the pool.
	// Zero timeout means the context deadline only.
	QueryState(ctx context.Context, timeout time.Duration) (DatabaseState, error)
}

// NodePool owns the physical connections to a single node.
// Implementations must be safe for concurrent use.
type NodePool interface {
	Host() string
	TryGetIdle() (Conn, bool)
	OpenNew(ctx context.Context, timeout time.Duration) (Conn, error)
	Return(conn Conn)
	CachedState() DatabaseState
	// Clear closes every idle connection keeping the pool usable.
	Clear()
	Close()
}

// PoolFactory creates the pool of a newly discovered node.
type PoolFactory func(node cluster.Node) (NodePool, error)

// Discoverer provides the cluster membership.
type Discoverer interface {
	Discover(ctx context.Context) (cluster.Snapshot, error)
}

// Recorder persists what the router observes.
type Recorder interface {
	SaveSnapshot(ctx context.Context, clusterName string, snapshot cluster.Snapshot) error
	SaveIncident(ctx context.Context, incident Incident) error
}

// Incident describes an acquisition failed because no node could serve it.
type Incident struct {
	ID          string        `json:"id"`
	ClusterName string        `json:"cluster_name"`
	Intent      SessionIntent `json:"intent"`
	Created     int64         `json:"created"`
	Error       string        `json:"error"`
	NodeErrors  []string      `json:"node_errors"`
}

type Options struct {
	Name          string
	Policy        LoadBalancePolicy
	SessionIntent SessionIntent
	// RefreshInterval is clamped to (0, MaxRefreshInterval].
	RefreshInterval time.Duration
	// DiscoveryTimeout bounds a single discovery regardless of the
	// acquisition which triggered it.
	DiscoveryTimeout time.Duration
	// Classifier enables placement-aware routing, nil means every node
	// is equally preferred.
	Classifier                 *placement.Classifier
	FallbackToTopologyKeysOnly bool
	FallbackScope              FallbackScope
	TieBreak                   TieBreak
}

// NodeStatus is a point-in-time view of a node as seen by the router.
type NodeStatus struct {
	Address   string            `json:"address"`
	Role      cluster.NodeRole  `json:"role"`
	Placement cluster.Placement `json:"placement"`
	Tier      int               `json:"tier"`
	Load      int               `json:"load"`
}

// Router routes connection acquisitions to the nodes of one cluster.
type Router struct {
	opts     Options
	selector *Selector

	discoverer Discoverer
	newPool    PoolFactory
	recorder   Recorder

	// mu guards the bookkeeping below, it is never held during I/O.
	mu           sync.Mutex
	pools        map[string]NodePool
	tracker      *LoadTracker
	outstanding  map[Conn]string
	snapshot     cluster.Snapshot
	tiers        placement.TierMap
	discovered   bool
	lastRefresh  time.Time
	forceRefresh bool
	closed       bool

	refreshGroup singleflight.Group

	logger zerolog.Logger
}

func NewRouter(opts Options, discoverer Discoverer, newPool PoolFactory) *Router {
	opts.RefreshInterval = ClampRefreshInterval(opts.RefreshInterval)
	if opts.Policy == "" {
		opts.Policy = PolicyAny
	}
	if opts.SessionIntent == "" {
		opts.SessionIntent = IntentAny
	}
	if opts.FallbackScope == "" {
		opts.FallbackScope = FallbackRestOfCluster
	}
	if opts.TieBreak == "" {
		opts.TieBreak = TieBreakRoundRobin
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}

	r := &Router{
		opts:        opts,
		selector:    NewSelector(opts.Policy, opts.TieBreak),
		discoverer:  discoverer,
		newPool:     newPool,
		pools:       make(map[string]NodePool),
		tracker:     NewLoadTracker(),
		outstanding: make(map[Conn]string),
		tiers:       placement.TierMap{},
	}
	r.SetLogger(zerolog.Nop())

	return r
}

func ClampRefreshInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultRefreshInterval
	}
	if d > MaxRefreshInterval {
		return MaxRefreshInterval
	}

	return d
}

func (r *Router) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

func (r *Router) SetRecorder(recorder Recorder) {
	r.recorder = recorder
}

func (r *Router) Name() string {
	return r.opts.Name
}

func (r *Router) Options() Options {
	return r.opts
}

// NeedsRefresh reports whether the membership is stale.
func (r *Router) NeedsRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.needsRefresh()
}

func (r *Router) needsRefresh() bool {
	return r.forceRefresh || !r.discovered || time.Since(r.lastRefresh) >= r.opts.RefreshInterval
}

// ForceRefresh makes the next acquisition rediscover the cluster.
func (r *Router) ForceRefresh() {
	r.mu.Lock()
	r.forceRefresh = true
	r.mu.Unlock()
}

// Refresh rediscovers the cluster membership. Concurrent calls share a single
// discovery. It reports whether a new membership has been applied.
//
// The discovery is bounded by the DiscoveryTimeout option only, ctx just stops
// the wait: a discovery outlives the caller which started it.
func (r *Router) Refresh(ctx context.Context) (bool, error) {
	ch := r.refreshGroup.DoChan("refresh", func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.DiscoveryTimeout)
		defer cancel()

		snapshot, err := r.discoverer.Discover(dctx)
		if err != nil {
			return false, err
		}

		r.apply(snapshot)
		r.saveSnapshot(snapshot)

		return true, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Err(res.Err).Msg("Failed to refresh the cluster membership")
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		r.logger.Warn().Err(ctx.Err()).Msg("Stopped waiting for the cluster discovery")
		return false, ctx.Err()
	}
}

func (r *Router) apply(snapshot cluster.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	for i := range snapshot.Nodes {
		n := &snapshot.Nodes[i]
		key := n.Key()
		if _, ok := r.pools[key]; ok {
			continue
		}

		pool, err := r.newPool(*n)
		if err != nil {
			r.logger.Err(err).Str("host", n.Address).Msg("Failed to create the pool of the node")
			continue
		}
		r.pools[key] = pool
	}

	// Nodes without a pool cannot be routed to.
	nodes := make([]cluster.Node, 0, len(snapshot.Nodes))
	for i := range snapshot.Nodes {
		if _, ok := r.pools[snapshot.Nodes[i].Key()]; ok {
			nodes = append(nodes, snapshot.Nodes[i])
		}
	}
	snapshot.Nodes = nodes

	r.tracker.Sync(nodes)
	r.tiers = r.opts.Classifier.Group(nodes)
	r.snapshot = snapshot
	r.discovered = true
	r.lastRefresh = time.Now()
	r.forceRefresh = false
}

func (r *Router) saveSnapshot(snapshot cluster.Snapshot) {
	if r.recorder == nil {
		return
	}

	err := r.recorder.SaveSnapshot(context.Background(), r.opts.Name, snapshot)
	if err != nil {
		r.logger.Err(err).Msg("Failed to save the membership snapshot")
	}
}

// acquisition is the state of a single Get call.
type acquisition struct {
	id       string
	intent   SessionIntent
	deadline time.Time

	// unreachable nodes are never retried within the call.
	unreachable map[string]struct{}
	errs        []error
}

func (a *acquisition) remaining() time.Duration {
	if a.deadline.IsZero() {
		return 0
	}

	return time.Until(a.deadline)
}

// Get returns a connection to the least loaded node which satisfies the
// session intent. The empty intent means the one the router is configured with.
// Zero timeout means no deadline besides the context one.
func (r *Router) Get(ctx context.Context, intent SessionIntent, timeout time.Duration) (Conn, error) {
	txn := metrics.StartAcquire(r.opts.Name)
	defer txn.End()

	if intent == "" {
		intent = r.opts.SessionIntent
	}

	acq := &acquisition{
		id:          uuid.NewString(),
		intent:      intent,
		unreachable: make(map[string]struct{}),
	}
	if timeout > 0 {
		acq.deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (acq.deadline.IsZero() || d.Before(acq.deadline)) {
		acq.deadline = d
	}
	if !acq.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, acq.deadline)
		defer cancel()
	}
	logger := r.logger.With().Str("acquire_id", acq.id).Logger()

	r.mu.Lock()
	stale, discovered, closed := r.needsRefresh(), r.discovered, r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRouterClosed
	}
	if stale {
		if _, err := r.Refresh(ctx); err != nil && !discovered {
			if ierr := r.interrupted(ctx); ierr != nil {
				return nil, ierr
			}
			return nil, err
		}
	}

	r.mu.Lock()
	tiers := r.tiers
	r.mu.Unlock()

	// Every placement is tried with the preferred roles before
	// any node of the fallback roles.
	for _, roles := range r.opts.Policy.roleGroups() {
		conn, err := r.walkTiers(ctx, acq, tiers, roles, logger)
		if conn != nil || err != nil {
			return conn, err
		}
	}

	return nil, r.exhausted(acq, logger)
}

// walkTiers tries the nodes of the given roles tier by tier, then the
// fallback scope unless it is disabled.
func (r *Router) walkTiers(ctx context.Context, acq *acquisition, tiers placement.TierMap, roles []cluster.NodeRole, logger zerolog.Logger) (Conn, error) {
	for _, tier := range tiers.Order() {
		if tier == placement.RestOfCluster && r.opts.Classifier != nil {
			break
		}

		conn, err := r.tryTier(ctx, acq, roles, memberSet(tiers[tier]), tierLabel(tier), logger)
		if conn != nil || err != nil {
			return conn, err
		}
	}

	if r.opts.Classifier == nil {
		return nil, nil
	}
	if r.opts.FallbackToTopologyKeysOnly {
		logger.Debug().Msg("Declared placements are exhausted, falling back is not allowed")
		return nil, nil
	}

	members, label := memberSet(tiers[placement.RestOfCluster]), "rest"
	if r.opts.FallbackScope == FallbackFullCluster {
		members, label = nil, "full"
	}

	return r.tryTier(ctx, acq, roles, members, label, logger)
}

// tryTier tries the members of one tier until a connection is validated.
// It returns no connection and no error when the tier is exhausted.
func (r *Router) tryTier(ctx context.Context, acq *acquisition, roles []cluster.NodeRole, members map[string]struct{}, tier string, logger zerolog.Logger) (Conn, error) {
	for {
		if err := r.interrupted(ctx); err != nil {
			return nil, err
		}

		host, pool, ok := r.selectNext(roles, members, acq.unreachable)
		if !ok {
			return nil, nil
		}

		conn, err := r.tryNode(ctx, pool, acq)
		if conn != nil {
			r.hold(conn, host)
			metrics.NewAcquireAttempt(r.opts.Name, host, true)
			metrics.NewFallbackTierHit(r.opts.Name, tier)
			logger.Debug().Str("host", host).Str("tier", tier).Msg("Acquired a connection")
			return conn, nil
		}

		r.release(host)
		acq.unreachable[host] = struct{}{}
		metrics.NewAcquireAttempt(r.opts.Name, host, false)
		if err != nil {
			logger.Warn().Err(err).Str("host", host).Msg("Node is unreachable, trying the next one")
			acq.errs = append(acq.errs, err)
		}

		if err := r.interrupted(ctx); err != nil {
			return nil, err
		}
	}
}

// interrupted returns the error of a cancelled or timed out acquisition.
func (r *Router) interrupted(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: cluster %s: %w", ErrAcquireTimeout, r.opts.Name, err)
	}

	return err
}

// tryNode opens and validates a connection. A node in a state not acceptable
// for the intent gives neither a connection nor an error.
func (r *Router) tryNode(ctx context.Context, pool NodePool, acq *acquisition) (Conn, error) {
	conn, ok := pool.TryGetIdle()
	if !ok {
		var err error
		conn, err = pool.OpenNew(ctx, acq.remaining())
		if err != nil {
			return nil, &NodeError{Host: pool.Host(), Err: err}
		}
	}

	state := pool.CachedState()
	if state == StateUnknown {
		var err error
		state, err = conn.QueryState(ctx, acq.remaining())
		if err != nil {
			pool.Return(conn)
			return nil, &NodeError{Host: pool.Host(), Err: err}
		}
	}

	if isPreferred(state, acq.intent) {
		return conn, nil
	}
	if acq.intent.Prefer() && isOnline(state) {
		return conn, nil
	}

	pool.Return(conn)

	return nil, nil
}

func (r *Router) selectNext(roles []cluster.NodeRole, members, unreachable map[string]struct{}) (string, NodePool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", nil, false
	}

	host, _, ok := r.selector.SelectIn(r.tracker, roles, members, unreachable)
	if !ok {
		return "", nil, false
	}
	metrics.SetNodeLoad(r.opts.Name, host, r.tracker.Load(host))

	return host, r.pools[host], true
}

func (r *Router) release(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.tracker.Dec(host) {
		return
	}

	if load := r.tracker.Load(host); load >= 0 {
		metrics.SetNodeLoad(r.opts.Name, host, load)
	} else {
		metrics.DeleteNodeLoad(r.opts.Name, host)
	}
}

func (r *Router) exhausted(acq *acquisition, logger zerolog.Logger) error {
	metrics.NewNoSuitableHost(r.opts.Name)

	err := newExhaustedError(r.opts.Name, acq.errs)
	logger.Error().Err(err).Str("intent", string(acq.intent)).Msg("No node could serve the connection")

	if r.recorder != nil {
		incident := Incident{
			ID:          acq.id,
			ClusterName: r.opts.Name,
			Intent:      acq.intent,
			Created:     util.Timestamp(),
			Error:       err.Error(),
			NodeErrors:  errorStrings(acq.errs),
		}
		if serr := r.recorder.SaveIncident(context.Background(), incident); serr != nil {
			logger.Err(serr).Msg("Failed to save the incident")
		}
	}

	return err
}

func (r *Router) hold(conn Conn, host string) {
	r.mu.Lock()
	r.outstanding[conn] = host
	r.mu.Unlock()
}

// Return gives the connection back to its pool and removes it from the node load.
// A connection which is not held, returned twice for instance, is ignored.
func (r *Router) Return(conn Conn) {
	r.mu.Lock()
	key, held := r.outstanding[conn]
	delete(r.outstanding, conn)
	pool, known := r.pools[key]
	r.mu.Unlock()

	if !held {
		r.logger.Warn().Str("host", conn.Host()).Msg("Returned connection is not held by the router")
		return
	}

	r.release(key)
	if !known {
		r.logger.Warn().Str("host", conn.Host()).Msg("Returned connection belongs to an unknown node")
		return
	}

	pool.Return(conn)
}

// GetLoad returns the number of connections attributed to the node
// or -1 if the node is unknown.
func (r *Router) GetLoad(addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tracker.Load(addr)
}

// TotalLoad returns the number of connections acquired and not yet returned.
func (r *Router) TotalLoad() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tracker.Total()
}

func (r *Router) Snapshot() cluster.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot.Copy()
}

// Nodes returns the routable nodes ordered by tier and address.
func (r *Router) Nodes() []NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]NodeStatus, 0, len(r.snapshot.Nodes))
	for i := range r.snapshot.Nodes {
		n := &r.snapshot.Nodes[i]
		res = append(res, NodeStatus{
			Address:   n.Address,
			Role:      n.Role,
			Placement: n.Placement,
			Tier:      r.opts.Classifier.Classify(n.Placement),
			Load:      r.tracker.Load(n.Address),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Tier != res[j].Tier {
			return res[i].Tier < res[j].Tier
		}
		return res[i].Address < res[j].Address
	})

	return res
}

// Clear drains every pool. Pools stay registered and load counters are kept.
func (r *Router) Clear() {
	for _, pool := range r.poolList() {
		pool.Clear()
	}
}

// Close closes every pool, the router is not usable afterwards.
func (r *Router) Close() {
	r.mu.Lock()
	pools := r.pools
	r.closed = true
	r.pools = make(map[string]NodePool)
	r.mu.Unlock()

	for _, pool := range pools {
		pool.Close()
	}
}

func (r *Router) poolList() []NodePool {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]NodePool, 0, len(r.pools))
	for _, pool := range r.pools {
		res = append(res, pool)
	}

	return res
}

func memberSet(addrs []string) map[string]struct{} {
	res := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		res[util.NormalizeHost(addr)] = struct{}{}
	}

	return res
}

func tierLabel(tier int) string {
	if tier == placement.RestOfCluster {
		return "rest"
	}

	return strconv.Itoa(tier)
}

// IsNoSuitableHost reports whether the error means every node has been exhausted.
func IsNoSuitableHost(err error) bool {
	return errors.Is(err, ErrNoSuitableHost) || errors.Is(err, ErrUnableToConnect)
}
