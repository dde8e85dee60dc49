package api

import (
	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
)

type ClusterInfo struct {
	Name           string                `json:"name"`
	Family         cluster.AddressFamily `json:"family"`
	ControlHost    string                `json:"control_host"`
	Discovered     int64                 `json:"discovered"`
	NodesCount     int                   `json:"nodes_count"`
	PrimariesCount int                   `json:"primaries_count"`
	ReplicasCount  int                   `json:"replicas_count"`
}

type LoadResponse struct {
	ClusterName string                `json:"cluster_name"`
	Total       int                   `json:"total"`
	Nodes       []balancer.NodeStatus `json:"nodes"`
}
