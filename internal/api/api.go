package api

import (
	"context"
	"errors"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
	"github.com/shmel1k/yblb/internal/storage"
)

var (
	ErrEmptyResult = errors.New("empty result")
)

type Service interface {
	ClustersList(context.Context) ([]ClusterInfo, error)
	ClusterSnapshot(context.Context, string) (cluster.Snapshot, error)
	Node(context.Context, string, string) (cluster.Node, error)
	Incidents(context.Context, string) ([]balancer.Incident, error)
	Load(context.Context, string) (LoadResponse, error)
}

// RouterSet gives access to the live routers.
type RouterSet interface {
	Router(name string) (*balancer.Router, bool)
}

func NewService(db storage.Storage, routers RouterSet) Service {
	return &service{
		db:      db,
		routers: routers,
	}
}

type service struct {
	db      storage.Storage
	routers RouterSet
}

func (s *service) ClustersList(ctx context.Context) ([]ClusterInfo, error) {
	clustersList, err := s.db.GetClusters(ctx)
	if err != nil {
		return nil, err
	}

	resp := make([]ClusterInfo, 0, len(clustersList))
	for _, c := range clustersList {
		info := ClusterInfo{
			Name:        c.Name,
			Family:      c.Snapshot.Family,
			ControlHost: c.Snapshot.ControlHost,
			Discovered:  c.Snapshot.Created,
			NodesCount:  len(c.Snapshot.Nodes),
		}
		for i := range c.Snapshot.Nodes {
			if c.Snapshot.Nodes[i].Role == cluster.RoleReadReplica {
				info.ReplicasCount++
			} else {
				info.PrimariesCount++
			}
		}
		resp = append(resp, info)
	}

	return resp, nil
}

func (s *service) ClusterSnapshot(ctx context.Context, clusterName string) (cluster.Snapshot, error) {
	snap, err := s.db.GetClusterSnapshot(ctx, clusterName)
	if err == storage.ErrEmptyResult {
		return cluster.Snapshot{}, ErrEmptyResult
	}

	return snap, err
}

func (s *service) Node(ctx context.Context, clusterName, address string) (cluster.Node, error) {
	snap, err := s.ClusterSnapshot(ctx, clusterName)
	if err != nil {
		return cluster.Node{}, err
	}

	node, err := snap.Node(address)
	if err == cluster.ErrNodeNotFound {
		return cluster.Node{}, ErrEmptyResult
	}

	return node, err
}

func (s *service) Incidents(ctx context.Context, clusterName string) ([]balancer.Incident, error) {
	return s.db.GetIncidents(ctx, clusterName)
}

func (s *service) Load(_ context.Context, clusterName string) (LoadResponse, error) {
	router, ok := s.routers.Router(clusterName)
	if !ok {
		return LoadResponse{}, ErrEmptyResult
	}

	return LoadResponse{
		ClusterName: clusterName,
		Total:       router.TotalLoad(),
		Nodes:       router.Nodes(),
	}, nil
}
