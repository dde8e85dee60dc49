package cluster

import (
	"strings"

	"github.com/shmel1k/yblb/internal/util"
)

type NodeRole string
type AddressFamily string

const (
	RolePrimary     NodeRole = "primary"
	RoleReadReplica NodeRole = "read_replica"
)

const (
	FamilyUnknown AddressFamily = ""
	FamilyPrivate AddressFamily = "private"
	FamilyPublic  AddressFamily = "public"
)

// ParseNodeRole maps the node_type column of the membership query to a role.
// Servers which do not report a node type are primaries.
func ParseNodeRole(s string) (NodeRole, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RolePrimary):
		return RolePrimary, true
	case string(RoleReadReplica):
		return RoleReadReplica, true
	}

	return "", false
}

// Placement is the geographic location of a node.
type Placement struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
	Zone   string `json:"zone"`
}

func (p Placement) String() string {
	var sb strings.Builder
	sb.Grow(len(p.Cloud) + len(p.Region) + len(p.Zone) + 2)
	sb.WriteString(p.Cloud)
	sb.WriteRune('.')
	sb.WriteString(p.Region)
	sb.WriteRune('.')
	sb.WriteString(p.Zone)

	return sb.String()
}

// ServerInfo is a single row of the cluster membership query.
type ServerInfo struct {
	// Host is the private address of the server.
	Host string `json:"host"`

	// Port is the YSQL port of the server.
	Port int `json:"port"`

	// NumConnections is the number of client connections reported by the server itself.
	NumConnections int `json:"num_connections"`

	// NodeType is either "primary" or "read_replica".
	NodeType string `json:"node_type"`

	Cloud  string `json:"cloud"`
	Region string `json:"region"`
	Zone   string `json:"zone"`

	// PublicIP is the address of the server reachable from outside of the cluster network, might be empty.
	PublicIP string `json:"public_ip"`

	UUID string `json:"uuid"`
}

func (s ServerInfo) Placement() Placement {
	return Placement{
		Cloud:  s.Cloud,
		Region: s.Region,
		Zone:   s.Zone,
	}
}

// Node is a cluster member known to the registry.
type Node struct {
	// Address is the address used for routing, taken from the address family
	// chosen by the registry.
	Address string `json:"address"`

	PrivateAddress string `json:"private_address"`
	PublicAddress  string `json:"public_address"`

	Port      int       `json:"port"`
	Role      NodeRole  `json:"role"`
	Placement Placement `json:"placement"`
	UUID      string    `json:"uuid"`
}

// Key is the identity of the node: its routing address compared case-insensitively.
func (n *Node) Key() string {
	return util.NormalizeHost(n.Address)
}

func (n *Node) AddressIn(f AddressFamily) string {
	if f == FamilyPublic {
		return n.PublicAddress
	}

	return n.PrivateAddress
}
