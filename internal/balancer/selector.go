package balancer

import (
	"math/rand"

	"github.com/shmel1k/yblb/internal/cluster"
)

// Selector picks the least loaded node allowed by the policy.
type Selector struct {
	policy   LoadBalancePolicy
	tieBreak TieBreak
}

func NewSelector(policy LoadBalancePolicy, tieBreak TieBreak) *Selector {
	return &Selector{
		policy:   policy,
		tieBreak: tieBreak,
	}
}

// SelectNext picks a node among members not present in unreachable and
// increments its counter. The role groups of the policy are consulted in
// order, a group is skipped only when it has no candidates at all.
func (s *Selector) SelectNext(t *LoadTracker, members, unreachable map[string]struct{}) (string, cluster.NodeRole, bool) {
	for _, roles := range s.policy.roleGroups() {
		if host, role, ok := s.SelectIn(t, roles, members, unreachable); ok {
			return host, role, true
		}
	}

	return "", "", false
}

// SelectIn is SelectNext restricted to a single group of roles.
func (s *Selector) SelectIn(t *LoadTracker, roles []cluster.NodeRole, members, unreachable map[string]struct{}) (string, cluster.NodeRole, bool) {
	candidates := t.candidates(roles, members, unreachable)
	if len(candidates) == 0 {
		return "", "", false
	}

	chosen := s.pick(candidates)
	chosen.count++
	t.tick++
	chosen.selected = t.tick

	return chosen.address, chosen.role, true
}

func (s *Selector) pick(candidates []*nodeLoad) *nodeLoad {
	if s.policy == PolicyDisabled {
		// No balancing, the node registered first wins.
		best := candidates[0]
		for _, l := range candidates[1:] {
			if l.seq < best.seq {
				best = l
			}
		}
		return best
	}

	var best []*nodeLoad
	for _, l := range candidates {
		switch {
		case len(best) == 0 || l.count < best[0].count:
			best = append(best[:0], l)
		case l.count == best[0].count:
			best = append(best, l)
		}
	}

	switch s.tieBreak {
	case TieBreakRandom:
		return best[rand.Intn(len(best))]
	case TieBreakAddress:
		res := best[0]
		for _, l := range best[1:] {
			if l.address < res.address {
				res = l
			}
		}
		return res
	}

	res := best[0]
	for _, l := range best[1:] {
		if l.selected < res.selected || (l.selected == res.selected && l.address < res.address) {
			res = l
		}
	}

	return res
}
