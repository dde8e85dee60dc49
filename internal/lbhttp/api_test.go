package lbhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shmel1k/yblb/internal/api"
	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
	"github.com/shmel1k/yblb/internal/storage/sqlite"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var (
	tDBFileName       = "test.db"
	tClusterName      = "test_cluster"
	tNotFoundCluster  = "not_found_cluster"
	tNodeAddress      = "10.0.0.1"
	tNotFoundNodeAddr = "10.0.0.9"
)

var (
	dummyLogger  = zerolog.New(nil)
	dummyContext = context.Background()
)

var (
	tSnapshot = cluster.Snapshot{
		Created:     117236231,
		ControlHost: tNodeAddress,
		Family:      cluster.FamilyPrivate,
		Nodes:       []cluster.Node{tPrimary, tReplica},
	}

	tPrimary = cluster.Node{
		Address:        tNodeAddress,
		PrivateAddress: tNodeAddress,
		PublicAddress:  "54.0.0.1",
		Port:           5433,
		Role:           cluster.RolePrimary,
		Placement:      cluster.Placement{Cloud: "aws", Region: "us-east-1", Zone: "us-east-1a"},
		UUID:           "11a6a15d-1ddd-4d10-af53-d489774b6ad6",
	}

	tReplica = cluster.Node{
		Address:        "10.0.0.2",
		PrivateAddress: "10.0.0.2",
		Port:           5433,
		Role:           cluster.RoleReadReplica,
		Placement:      cluster.Placement{Cloud: "aws", Region: "us-west-2", Zone: "us-west-2a"},
		UUID:           "cd44ae9e-3655-4e6e-89c8-716c9c2bee8a",
	}

	tIncident = balancer.Incident{
		ID:          "7c652540-2d9c-4eb1-8473-a41ec7ab3554",
		ClusterName: tClusterName,
		Intent:      balancer.IntentReadWrite,
		Created:     117236240,
		Error:       "cluster test_cluster: no suitable host was found",
		NodeErrors:  []string{"host 10.0.0.1: connection refused"},
	}
)

type routerSet map[string]*balancer.Router

func (s routerSet) Router(name string) (*balancer.Router, bool) {
	r, ok := s[name]
	return r, ok
}

type testCase struct {
	name             string
	clusterName      string
	nodeAddress      string
	expectedCode     int
	expectedResponse string
}

type apiSuite struct {
	suite.Suite
	handler APIHandler

	live   *balancer.Router
	router *mux.Router
}

func (a *apiSuite) SetupSuite() {
	t := a.Suite.T()

	db, err := sqlite.New(sqlite.Config{
		FileName:       tDBFileName,
		ConnectTimeout: time.Second,
		QueryTimeout:   time.Second,
	})
	require.NoError(t, err)

	err = db.SaveSnapshot(dummyContext, tClusterName, tSnapshot)
	require.NoError(t, err)

	err = db.SaveIncident(dummyContext, tIncident)
	require.NoError(t, err)

	dialer := cluster.NewMockDialer(
		cluster.ServerInfo{Host: "10.0.0.1", Port: 5433, NodeType: "primary", Cloud: "aws", Region: "us-east-1", Zone: "us-east-1a"},
		cluster.ServerInfo{Host: "10.0.0.2", Port: 5433, NodeType: "primary", Cloud: "aws", Region: "us-east-1", Zone: "us-east-1b"},
	)
	registry := cluster.NewRegistry(tClusterName, []string{"10.0.0.1"}, dialer)
	a.live = balancer.NewRouter(balancer.Options{Name: tClusterName}, registry, balancer.NewMockPools().Factory)
	_, err = a.live.Refresh(dummyContext)
	require.NoError(t, err)

	a.handler = NewHandler(dummyLogger, api.NewService(db, routerSet{tClusterName: a.live}))

	router := mux.NewRouter()
	RegisterAPIHandlers(router, a.handler)
	RegisterDebugHandlers(router, "v1.0.0", "abcdef", "2026-10-16")

	a.router = router
}

func (a *apiSuite) TearDownSuite() {
	a.live.Close()

	err := os.Remove(tDBFileName)
	require.NoError(a.T(), err)
}

func TestAPI(t *testing.T) {
	suite.Run(t, &apiSuite{
		Suite: suite.Suite{},
	})
}

func (a *apiSuite) TestGetClustersList() {
	t := a.T()
	r := httptest.NewRequest(http.MethodGet, "/api/v0/snapshots", nil)
	w := httptest.NewRecorder()

	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, a.jsonMarshal([]api.ClusterInfo{{
		Name:           tClusterName,
		Family:         cluster.FamilyPrivate,
		ControlHost:    tNodeAddress,
		Discovered:     tSnapshot.Created,
		NodesCount:     2,
		PrimariesCount: 1,
		ReplicasCount:  1,
	}}), w.Body.String())
}

func (a *apiSuite) TestClusterSnapshot() {
	t := a.T()
	for _, tt := range []testCase{
		{
			name:             "Success_case",
			clusterName:      tClusterName,
			expectedCode:     http.StatusOK,
			expectedResponse: a.jsonMarshal(tSnapshot),
		},
		{
			name:             "Not_found_cluster",
			clusterName:      tNotFoundCluster,
			expectedCode:     http.StatusBadRequest,
			expectedResponse: "cluster snapshot not found",
		},
	} {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v0/snapshots/%s", tc.clusterName), nil)
			w := httptest.NewRecorder()

			a.router.ServeHTTP(w, r)
			assert.Equal(t, tc.expectedCode, w.Code)
			assert.Equal(t, tc.expectedResponse, w.Body.String())
		})
	}
}

func (a *apiSuite) TestNodeSnapshot() {
	t := a.T()
	for _, tt := range []testCase{
		{
			name:             "Success_case",
			clusterName:      tClusterName,
			nodeAddress:      tNodeAddress,
			expectedCode:     http.StatusOK,
			expectedResponse: a.jsonMarshal(tPrimary),
		},
		{
			name:             "Not_found_cluster",
			clusterName:      tNotFoundCluster,
			nodeAddress:      tNodeAddress,
			expectedCode:     http.StatusBadRequest,
			expectedResponse: "cluster or node snapshots not found",
		},
		{
			name:             "Not_found_node",
			clusterName:      tClusterName,
			nodeAddress:      tNotFoundNodeAddr,
			expectedCode:     http.StatusBadRequest,
			expectedResponse: "cluster or node snapshots not found",
		},
	} {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v0/snapshots/%s/%s", tc.clusterName, tc.nodeAddress), nil)
			w := httptest.NewRecorder()

			a.router.ServeHTTP(w, r)
			assert.Equal(t, tc.expectedCode, w.Code)
			assert.Equal(t, tc.expectedResponse, w.Body.String())
		})
	}
}

func (a *apiSuite) TestIncidents() {
	t := a.T()
	for _, tt := range []testCase{
		{
			name:             "Success_case",
			clusterName:      tClusterName,
			expectedCode:     http.StatusOK,
			expectedResponse: a.jsonMarshal([]balancer.Incident{tIncident}),
		},
		{
			name:             "Not_found_cluster_Expected_empty_result",
			clusterName:      tNotFoundCluster,
			expectedCode:     http.StatusOK,
			expectedResponse: a.jsonMarshal([]balancer.Incident{}),
		},
	} {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v0/incidents/%s", tc.clusterName), nil)
			w := httptest.NewRecorder()

			a.router.ServeHTTP(w, r)
			assert.Equal(t, tc.expectedCode, w.Code)
			assert.Equal(t, tc.expectedResponse, w.Body.String())
		})
	}
}

func (a *apiSuite) TestLoad() {
	t := a.T()

	conn, err := a.live.Get(dummyContext, balancer.IntentAny, time.Second)
	require.NoError(t, err)
	defer a.live.Return(conn)

	for _, tt := range []testCase{
		{
			name:         "Success_case",
			clusterName:  tClusterName,
			expectedCode: http.StatusOK,
			expectedResponse: a.jsonMarshal(api.LoadResponse{
				ClusterName: tClusterName,
				Total:       1,
				Nodes:       a.live.Nodes(),
			}),
		},
		{
			name:             "Not_found_cluster",
			clusterName:      tNotFoundCluster,
			expectedCode:     http.StatusBadRequest,
			expectedResponse: "cluster not found",
		},
	} {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v0/load/%s", tc.clusterName), nil)
			w := httptest.NewRecorder()

			a.router.ServeHTTP(w, r)
			assert.Equal(t, tc.expectedCode, w.Code)
			assert.Equal(t, tc.expectedResponse, w.Body.String())
		})
	}
}

func (a *apiSuite) TestDebugHandlers() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, "/debug/about", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"v1.0.0","commit":"abcdef","build":"2026-10-16"}`, w.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/debug/health", nil)
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/debug/metrics", nil)
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "discovery_cluster_durations")
}

func (a *apiSuite) jsonMarshal(v interface{}) string {
	data, err := json.Marshal(v)
	require.NoError(a.T(), err)

	return string(data)
}
