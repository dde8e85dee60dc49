package cluster

import (
	"strconv"
	"strings"

	"github.com/shmel1k/yblb/internal/util"
)

// Snapshot is a copy of the cluster membership in given time.
type Snapshot struct {
	Created     int64         `json:"created"`
	ControlHost string        `json:"control_host"`
	Family      AddressFamily `json:"family"`
	Nodes       []Node        `json:"nodes"`
}

func (s *Snapshot) Copy() Snapshot {
	dst := Snapshot{
		Created:     s.Created,
		ControlHost: s.ControlHost,
		Family:      s.Family,
		Nodes:       make([]Node, len(s.Nodes)),
	}

	copy(dst.Nodes, s.Nodes)

	return dst
}

func (s *Snapshot) Node(addr string) (Node, error) {
	key := util.NormalizeHost(addr)
	for i := range s.Nodes {
		if s.Nodes[i].Key() == key {
			return s.Nodes[i], nil
		}
	}

	return Node{}, ErrNodeNotFound
}

func (s *Snapshot) Addresses() []string {
	res := make([]string, 0, len(s.Nodes))
	for i := range s.Nodes {
		res = append(res, s.Nodes[i].Address)
	}

	return res
}

func (s *Snapshot) String() string {
	// Minimal style, only important info.
	var sb strings.Builder
	sb.WriteString("control host: ")
	sb.WriteString(s.ControlHost)
	sb.WriteString("; family: ")
	sb.WriteString(string(s.Family))
	sb.WriteString("; size: ")
	sb.WriteString(strconv.Itoa(len(s.Nodes)))
	sb.WriteString("; nodes: [")
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n.Address)
		sb.WriteString(" (")
		sb.WriteString(string(n.Role))
		sb.WriteString(", ")
		sb.WriteString(n.Placement.String())
		sb.WriteString(")")
	}
	sb.WriteString("]")

	return sb.String()
}
