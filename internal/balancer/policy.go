package balancer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shmel1k/yblb/internal/cluster"
)

// LoadBalancePolicy restricts the roles of the nodes a connection may go to.
type LoadBalancePolicy string

const (
	PolicyDisabled      LoadBalancePolicy = "disabled"
	PolicyAny           LoadBalancePolicy = "any"
	PolicyOnlyPrimary   LoadBalancePolicy = "only-primary"
	PolicyOnlyRR        LoadBalancePolicy = "only-rr"
	PolicyPreferPrimary LoadBalancePolicy = "prefer-primary"
	PolicyPreferRR      LoadBalancePolicy = "prefer-rr"
)

var (
	ErrUnknownPolicy        = errors.New("unknown load balance policy")
	ErrUnknownTieBreak      = errors.New("unknown tie break")
	ErrUnknownFallbackScope = errors.New("unknown fallback scope")
)

func ParseLoadBalancePolicy(s string) (LoadBalancePolicy, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "false":
		return PolicyDisabled, nil
	case "true":
		return PolicyAny, nil
	default:
		p := LoadBalancePolicy(v)
		switch p {
		case PolicyDisabled, PolicyAny, PolicyOnlyPrimary, PolicyOnlyRR, PolicyPreferPrimary, PolicyPreferRR:
			return p, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// roleGroups returns the groups of roles to select from, in order.
// The next group is consulted only when the previous one has no candidates.
func (p LoadBalancePolicy) roleGroups() [][]cluster.NodeRole {
	switch p {
	case PolicyOnlyPrimary:
		return [][]cluster.NodeRole{{cluster.RolePrimary}}
	case PolicyOnlyRR:
		return [][]cluster.NodeRole{{cluster.RoleReadReplica}}
	case PolicyPreferPrimary:
		return [][]cluster.NodeRole{{cluster.RolePrimary}, {cluster.RoleReadReplica}}
	case PolicyPreferRR:
		return [][]cluster.NodeRole{{cluster.RoleReadReplica}, {cluster.RolePrimary}}
	default:
		return [][]cluster.NodeRole{{cluster.RolePrimary, cluster.RoleReadReplica}}
	}
}

// TieBreak chooses among the candidates with the same load.
type TieBreak string

const (
	// TieBreakRoundRobin picks the node selected least recently.
	TieBreakRoundRobin TieBreak = "round-robin"
	TieBreakAddress    TieBreak = "address"
	TieBreakRandom     TieBreak = "random"
)

// FallbackScope is the set of nodes tried after the declared placements are exhausted.
type FallbackScope string

const (
	// FallbackRestOfCluster tries only the nodes matching no placement rule.
	FallbackRestOfCluster FallbackScope = "rest-of-cluster"
	// FallbackFullCluster tries every node ignoring placements.
	FallbackFullCluster FallbackScope = "full-cluster"
)

// ParseTieBreak treats an empty value as round-robin.
func ParseTieBreak(s string) (TieBreak, error) {
	switch v := TieBreak(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return TieBreakRoundRobin, nil
	case TieBreakRoundRobin, TieBreakAddress, TieBreakRandom:
		return v, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownTieBreak, s)
}

// ParseFallbackScope treats an empty value as rest-of-cluster.
func ParseFallbackScope(s string) (FallbackScope, error) {
	switch v := FallbackScope(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return FallbackRestOfCluster, nil
	case FallbackRestOfCluster, FallbackFullCluster:
		return v, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownFallbackScope, s)
}
