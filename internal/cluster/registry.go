package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shmel1k/yblb/internal/metrics"
	"github.com/shmel1k/yblb/internal/util"
)

var (
	ErrDiscoveryFailed  = errors.New("could not discover the cluster membership using any of the bootstrap hosts")
	ErrNoBootstrapHosts = errors.New("no bootstrap hosts left to discover the cluster")
	ErrNodeNotFound     = errors.New("node not found")
)

// ControlConn is a connection used only to query the cluster membership.
type ControlConn interface {
	// Host is the address the connection was established to.
	Host() string
	Servers(ctx context.Context) ([]ServerInfo, error)
	Close(ctx context.Context) error
}

type ControlDialer interface {
	Dial(ctx context.Context, host string) (ControlConn, error)
}

// Registry keeps the latest known membership of a single cluster.
type Registry struct {
	Name string

	dialer ControlDialer

	// discoverMu serializes discoveries, the snapshot itself
	// is guarded by mutex.
	discoverMu sync.Mutex
	hosts      []string
	family     AddressFamily
	discovered bool
	lastHash   string

	mutex    sync.RWMutex
	snapshot Snapshot

	logger zerolog.Logger
}

func NewRegistry(name string, bootstrap []string, dialer ControlDialer) *Registry {
	r := &Registry{
		Name:   name,
		dialer: dialer,
		hosts:  dedupHosts(bootstrap, nil),
	}
	r.SetLogger(zerolog.Nop())

	return r
}

func (r *Registry) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

func (r *Registry) Snapshot() Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.snapshot.Copy()
}

// LastDiscovered returns the creation time of the latest snapshot,
// zero if the cluster has never been discovered.
func (r *Registry) LastDiscovered() int64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.snapshot.Created
}

func (r *Registry) Dump() string {
	r.mutex.RLock()
	j, _ := json.Marshal(r.snapshot)
	r.mutex.RUnlock()

	return string(j)
}

// BootstrapHosts returns the hosts the next discovery is going to try.
func (r *Registry) BootstrapHosts() []string {
	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()

	dst := make([]string, len(r.hosts))
	copy(dst, r.hosts)

	return dst
}

// Discover queries the cluster membership through the first bootstrap host
// which accepts a control connection. Hosts which fail are dropped from the
// bootstrap list. On failure the previous snapshot stays in effect.
func (r *Registry) Discover(ctx context.Context) (Snapshot, error) {
	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()

	txn := metrics.StartClusterDiscovery(r.Name)
	defer txn.End()

	prev := r.Snapshot()
	r.hosts = dedupHosts(r.hosts, prev.Addresses())

	conn, servers, err := r.queryMembership(ctx)
	if err != nil {
		metrics.NewFailedClusterDiscoveryAttempt(r.Name)
		return prev, err
	}

	family := r.family
	if family == FamilyUnknown {
		var sticky bool
		family, sticky = detectFamily(util.NormalizeHost(conn.Host()), servers)
		if sticky {
			r.family = family
		}
	}

	ns := Snapshot{
		Created:     util.Timestamp(),
		ControlHost: conn.Host(),
		Family:      family,
		Nodes:       r.buildNodes(servers, family),
	}
	if len(ns.Nodes) == 0 && !r.discovered {
		// Nothing is routable in the chosen family, allowed to switch once.
		other := FamilyPublic
		if family == FamilyPublic {
			other = FamilyPrivate
		}
		r.logger.Warn().
			Str("family", string(family)).
			Msgf("No nodes found with %s addresses, switching to %s addresses", family, other)
		r.family = other
		ns.Family = other
		ns.Nodes = r.buildNodes(servers, other)
	}
	r.discovered = true

	r.hosts = dedupHosts(r.hosts, ns.Addresses())

	r.mutex.Lock()
	if r.snapshot.Created <= ns.Created {
		r.snapshot = ns
	}
	r.mutex.Unlock()

	r.logSnapshot(&ns)
	setDiscoveredNodes(r.Name, ns.Nodes)

	return ns.Copy(), nil
}

func (r *Registry) queryMembership(ctx context.Context) (ControlConn, []ServerInfo, error) {
	if len(r.hosts) == 0 {
		r.logger.Error().Msg("There are no bootstrap hosts left to discover the cluster membership")
		return nil, nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, ErrNoBootstrapHosts)
	}

	var lastErr error
	for len(r.hosts) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
		}

		host := r.hosts[0]
		conn, err := r.dialer.Dial(ctx, host)
		if err == nil {
			var servers []ServerInfo
			servers, err = conn.Servers(ctx)
			if cerr := conn.Close(ctx); cerr != nil {
				r.logger.Debug().Err(cerr).Str("host", host).Msg("Failed to close the control connection")
			}
			if err == nil {
				return conn, servers, nil
			}
		}

		if cerr := ctx.Err(); cerr != nil {
			// The host was not given a chance to answer, it stays.
			r.logger.Warn().Err(err).Str("host", host).Msg("Cluster discovery interrupted")
			return nil, nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, cerr)
		}

		r.logger.Err(err).
			Str("host", host).
			Msg("Failed to discover the cluster membership, dropping the host from the bootstrap list")
		r.hosts = r.hosts[1:]
		lastErr = err
	}

	return nil, nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, lastErr)
}

func (r *Registry) buildNodes(servers []ServerInfo, family AddressFamily) []Node {
	nodes := make([]Node, 0, len(servers))
	for _, s := range servers {
		role, ok := ParseNodeRole(s.NodeType)
		if !ok {
			r.logger.Warn().
				Str("host", s.Host).
				Str("node_type", s.NodeType).
				Msg("Skipping the server of unknown type")
			continue
		}

		n := Node{
			PrivateAddress: util.NormalizeHost(s.Host),
			PublicAddress:  util.NormalizeHost(s.PublicIP),
			Port:           s.Port,
			Role:           role,
			Placement:      s.Placement(),
			UUID:           s.UUID,
		}
		n.Address = n.AddressIn(family)
		if n.Address == "" {
			continue
		}
		nodes = append(nodes, n)
	}

	return nodes
}

func (r *Registry) logSnapshot(s *Snapshot) {
	state := s.String()
	hash, err := util.GetHash([]byte(state))
	if err == nil && hash == r.lastHash {
		return
	}

	r.logger.Info().Str("membership", state).Msg("Cluster membership changed")
	r.lastHash = hash
}

// detectFamily picks the address family the control host belongs to.
// The second value reports whether the control host matched one of the
// columns; otherwise private addresses are preferred and the choice
// is not made sticky.
func detectFamily(controlHost string, servers []ServerInfo) (AddressFamily, bool) {
	hasPrivate := false
	for _, s := range servers {
		if util.NormalizeHost(s.Host) == controlHost {
			return FamilyPrivate, true
		}
		if s.PublicIP != "" && util.NormalizeHost(s.PublicIP) == controlHost {
			return FamilyPublic, true
		}
		if s.Host != "" {
			hasPrivate = true
		}
	}

	if hasPrivate {
		return FamilyPrivate, false
	}

	return FamilyPublic, false
}

func dedupHosts(first, second []string) []string {
	seen := make(map[string]struct{}, len(first)+len(second))
	res := make([]string, 0, len(first)+len(second))
	for _, list := range [][]string{first, second} {
		for _, h := range list {
			key := util.NormalizeHost(h)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			res = append(res, h)
		}
	}

	return res
}

func setDiscoveredNodes(cluster string, nodes []Node) {
	primaries, replicas := 0, 0
	for i := range nodes {
		if nodes[i].Role == RoleReadReplica {
			replicas++
		} else {
			primaries++
		}
	}
	metrics.SetDiscoveredNodes(cluster, string(RolePrimary), primaries)
	metrics.SetDiscoveredNodes(cluster, string(RoleReadReplica), replicas)
}
