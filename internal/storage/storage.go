package storage

import (
	"context"
	"errors"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
)

var (
	ErrEmptyResult = errors.New("empty result")
)

type Storage interface {
	SaveSnapshot(ctx context.Context, clusterName string, snapshot cluster.Snapshot) error
	SaveIncident(ctx context.Context, incident balancer.Incident) error
	GetClusters(ctx context.Context) ([]ClusterSnapshotResp, error)
	GetClusterSnapshot(ctx context.Context, clusterName string) (cluster.Snapshot, error)
	GetIncidents(ctx context.Context, clusterName string) ([]balancer.Incident, error)
	Close() error
}

type ClusterSnapshotResp struct {
	Name     string           `json:"name"`
	Snapshot cluster.Snapshot `json:"snapshot"`
}
