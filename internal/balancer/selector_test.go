package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shmel1k/yblb/internal/cluster"
)

func newTracker(nodes ...cluster.Node) *LoadTracker {
	tr := NewLoadTracker()
	tr.Sync(nodes)
	return tr
}

func setLoad(tr *LoadTracker, addr string, load int) {
	for i := 0; i < load; i++ {
		tr.Inc(addr)
	}
}

func TestSelector_LeastLoaded(t *testing.T) {
	tr := newTracker(
		node("h1", cluster.RolePrimary),
		node("h2", cluster.RolePrimary),
		node("h3", cluster.RolePrimary),
	)
	setLoad(tr, "h1", 3)
	setLoad(tr, "h2", 1)
	setLoad(tr, "h3", 2)

	s := NewSelector(PolicyAny, TieBreakAddress)
	host, role, ok := s.SelectNext(tr, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "h2", host)
	assert.Equal(t, cluster.RolePrimary, role)
	assert.Equal(t, 2, tr.Load("h2"))

	// h2 and h3 are equal now.
	host, _, _ = s.SelectNext(tr, nil, nil)
	assert.Equal(t, "h2", host)
	host, _, _ = s.SelectNext(tr, nil, nil)
	assert.Equal(t, "h3", host)
}

func TestSelector_RoundRobin(t *testing.T) {
	tr := newTracker(
		node("h1", cluster.RolePrimary),
		node("h2", cluster.RolePrimary),
		node("h3", cluster.RolePrimary),
	)

	s := NewSelector(PolicyAny, TieBreakRoundRobin)
	var got []string
	for i := 0; i < 6; i++ {
		host, _, ok := s.SelectNext(tr, nil, nil)
		assert.True(t, ok)
		tr.Dec(host)
		got = append(got, host)
	}

	assert.Equal(t, []string{"h1", "h2", "h3", "h1", "h2", "h3"}, got)
}

func TestSelector_Random(t *testing.T) {
	tr := newTracker(
		node("h1", cluster.RolePrimary),
		node("h2", cluster.RolePrimary),
	)
	setLoad(tr, "h1", 1)

	s := NewSelector(PolicyAny, TieBreakRandom)
	host, _, ok := s.SelectNext(tr, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "h2", host)
}

func TestSelector_Unreachable(t *testing.T) {
	tr := newTracker(
		node("h1", cluster.RolePrimary),
		node("h2", cluster.RolePrimary),
	)
	setLoad(tr, "h2", 5)

	s := NewSelector(PolicyAny, TieBreakAddress)
	host, _, ok := s.SelectNext(tr, nil, map[string]struct{}{"h1": {}})
	assert.True(t, ok)
	assert.Equal(t, "h2", host)

	_, _, ok = s.SelectNext(tr, nil, map[string]struct{}{"h1": {}, "h2": {}})
	assert.False(t, ok)
}

func TestSelector_Members(t *testing.T) {
	tr := newTracker(
		node("h1", cluster.RolePrimary),
		node("h2", cluster.RolePrimary),
	)
	setLoad(tr, "h2", 5)

	s := NewSelector(PolicyAny, TieBreakAddress)
	host, _, ok := s.SelectNext(tr, map[string]struct{}{"h2": {}}, nil)
	assert.True(t, ok)
	assert.Equal(t, "h2", host)

	_, _, ok = s.SelectNext(tr, map[string]struct{}{}, nil)
	assert.False(t, ok)
}

func TestSelector_Policies(t *testing.T) {
	nodes := []cluster.Node{
		node("p1", cluster.RolePrimary),
		node("p2", cluster.RolePrimary),
		node("r1", cluster.RoleReadReplica),
	}
	allPrimaries := map[string]struct{}{"p1": {}, "p2": {}}
	allReplicas := map[string]struct{}{"r1": {}}

	tests := []struct {
		name        string
		policy      LoadBalancePolicy
		loads       map[string]int
		unreachable map[string]struct{}
		want        string
		ok          bool
	}{
		{
			name:   "OnlyPrimaryIgnoresIdleReplica",
			policy: PolicyOnlyPrimary,
			loads:  map[string]int{"p1": 4, "p2": 3},
			want:   "p2",
			ok:     true,
		},
		{
			name:        "OnlyPrimaryNeverFallsBack",
			policy:      PolicyOnlyPrimary,
			unreachable: allPrimaries,
			ok:          false,
		},
		{
			name:   "OnlyRR",
			policy: PolicyOnlyRR,
			loads:  map[string]int{"r1": 10},
			want:   "r1",
			ok:     true,
		},
		{
			name:        "OnlyRRNeverFallsBack",
			policy:      PolicyOnlyRR,
			unreachable: allReplicas,
			ok:          false,
		},
		{
			name:   "PreferPrimary",
			policy: PolicyPreferPrimary,
			loads:  map[string]int{"p1": 4, "p2": 3},
			want:   "p2",
			ok:     true,
		},
		{
			name:        "PreferPrimaryFallsBackToReplica",
			policy:      PolicyPreferPrimary,
			unreachable: allPrimaries,
			want:        "r1",
			ok:          true,
		},
		{
			name:   "PreferRR",
			policy: PolicyPreferRR,
			loads:  map[string]int{"r1": 7},
			want:   "r1",
			ok:     true,
		},
		{
			name:        "PreferRRFallsBackToPrimary",
			policy:      PolicyPreferRR,
			loads:       map[string]int{"p1": 1},
			unreachable: allReplicas,
			want:        "p2",
			ok:          true,
		},
		{
			name:   "AnyMergesRoles",
			policy: PolicyAny,
			loads:  map[string]int{"p1": 1, "p2": 1},
			want:   "r1",
			ok:     true,
		},
		{
			name:   "DisabledUsesRegistrationOrder",
			policy: PolicyDisabled,
			loads:  map[string]int{"p1": 10},
			want:   "p1",
			ok:     true,
		},
		{
			name:        "DisabledSkipsUnreachable",
			policy:      PolicyDisabled,
			unreachable: map[string]struct{}{"p1": {}},
			want:        "p2",
			ok:          true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker(nodes...)
			for addr, load := range tt.loads {
				setLoad(tr, addr, load)
			}
			before := tr.Total()

			s := NewSelector(tt.policy, TieBreakAddress)
			host, _, ok := s.SelectNext(tr, nil, tt.unreachable)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, host)
			if ok {
				assert.Equal(t, before+1, tr.Total())
			} else {
				assert.Equal(t, before, tr.Total())
			}
		})
	}
}
