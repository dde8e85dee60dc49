package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
)

// MockedStorage keeps everything in memory.
type MockedStorage struct {
	mu        sync.Mutex
	snapshots map[string]cluster.Snapshot
	incidents map[string][]balancer.Incident
}

func NewMockedStorage() *MockedStorage {
	return &MockedStorage{
		snapshots: make(map[string]cluster.Snapshot),
		incidents: make(map[string][]balancer.Incident),
	}
}

func (m *MockedStorage) SaveSnapshot(_ context.Context, clusterName string, snapshot cluster.Snapshot) error {
	m.mu.Lock()
	m.snapshots[clusterName] = snapshot.Copy()
	m.mu.Unlock()

	return nil
}

func (m *MockedStorage) SaveIncident(_ context.Context, incident balancer.Incident) error {
	m.mu.Lock()
	m.incidents[incident.ClusterName] = append(m.incidents[incident.ClusterName], incident)
	m.mu.Unlock()

	return nil
}

func (m *MockedStorage) GetClusters(_ context.Context) ([]ClusterSnapshotResp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := make([]ClusterSnapshotResp, 0, len(m.snapshots))
	for name, snapshot := range m.snapshots {
		resp = append(resp, ClusterSnapshotResp{Name: name, Snapshot: snapshot.Copy()})
	}
	sort.Slice(resp, func(i, j int) bool {
		return resp[i].Name < resp[j].Name
	})

	return resp, nil
}

func (m *MockedStorage) GetClusterSnapshot(_ context.Context, clusterName string) (cluster.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.snapshots[clusterName]
	if !ok {
		return cluster.Snapshot{}, ErrEmptyResult
	}

	return snapshot.Copy(), nil
}

func (m *MockedStorage) GetIncidents(_ context.Context, clusterName string) ([]balancer.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := make([]balancer.Incident, len(m.incidents[clusterName]))
	copy(resp, m.incidents[clusterName])

	return resp, nil
}

func (m *MockedStorage) Close() error {
	return nil
}
