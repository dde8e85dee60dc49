package balancer

import (
	"github.com/shmel1k/yblb/internal/cluster"
	"github.com/shmel1k/yblb/internal/util"
)

type nodeLoad struct {
	address string
	role    cluster.NodeRole
	count   int
	// seq is the registration order of the node.
	seq int
	// selected is the tick of the latest selection, zero if never selected.
	selected uint64
	// retired nodes are absent from the latest membership snapshot,
	// they are kept only until their last connection is returned.
	retired bool
}

// LoadTracker counts connections attributed to every node partitioned by role.
// It is not safe for concurrent use, the owner serializes access.
type LoadTracker struct {
	loads map[cluster.NodeRole]map[string]*nodeLoad
	seq   int
	tick  uint64
}

func NewLoadTracker() *LoadTracker {
	return &LoadTracker{
		loads: map[cluster.NodeRole]map[string]*nodeLoad{
			cluster.RolePrimary:     {},
			cluster.RoleReadReplica: {},
		},
	}
}

// Sync applies a membership snapshot: new nodes are registered, nodes which
// changed role keep their counters, absent nodes are retired.
func (t *LoadTracker) Sync(nodes []cluster.Node) {
	present := make(map[string]struct{}, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		key := n.Key()
		present[key] = struct{}{}

		l := t.find(key)
		if l == nil {
			t.seq++
			l = &nodeLoad{address: key, role: n.Role, seq: t.seq}
			t.loads[n.Role][key] = l
			continue
		}

		l.retired = false
		if l.role != n.Role {
			delete(t.loads[l.role], key)
			l.role = n.Role
			t.loads[n.Role][key] = l
		}
	}

	for role, loads := range t.loads {
		for key, l := range loads {
			if _, ok := present[key]; ok {
				continue
			}
			l.retired = true
			if l.count == 0 {
				delete(t.loads[role], key)
			}
		}
	}
}

func (t *LoadTracker) find(key string) *nodeLoad {
	for _, loads := range t.loads {
		if l, ok := loads[key]; ok {
			return l
		}
	}

	return nil
}

// Inc attributes one more connection to the node.
func (t *LoadTracker) Inc(addr string) bool {
	l := t.find(util.NormalizeHost(addr))
	if l == nil {
		return false
	}
	l.count++

	return true
}

// Dec removes one connection from the node, the counter never goes below zero.
func (t *LoadTracker) Dec(addr string) bool {
	key := util.NormalizeHost(addr)
	l := t.find(key)
	if l == nil || l.count == 0 {
		return false
	}

	l.count--
	if l.retired && l.count == 0 {
		delete(t.loads[l.role], key)
	}

	return true
}

// Load returns the number of connections attributed to the node or -1 if the node is unknown.
func (t *LoadTracker) Load(addr string) int {
	l := t.find(util.NormalizeHost(addr))
	if l == nil {
		return -1
	}

	return l.count
}

func (t *LoadTracker) Total() int {
	total := 0
	for _, loads := range t.loads {
		for _, l := range loads {
			total += l.count
		}
	}

	return total
}

// candidates returns the active nodes of the given roles. A nil members set
// means every node, excluded nodes are skipped.
func (t *LoadTracker) candidates(roles []cluster.NodeRole, members, excluded map[string]struct{}) []*nodeLoad {
	var res []*nodeLoad
	for _, role := range roles {
		for key, l := range t.loads[role] {
			if l.retired {
				continue
			}
			if members != nil {
				if _, ok := members[key]; !ok {
					continue
				}
			}
			if _, ok := excluded[key]; ok {
				continue
			}
			res = append(res, l)
		}
	}

	return res
}
