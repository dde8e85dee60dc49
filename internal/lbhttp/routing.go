package lbhttp

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterDebugHandlers(r *mux.Router, version, commit, buildDate string) {
	r.Handle("/debug/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/debug/health", HealthHandler()).Methods(http.MethodGet)
	r.Handle("/debug/about", AboutHandler(version, commit, buildDate)).Methods(http.MethodGet)
}

func RegisterAPIHandlers(r *mux.Router, h APIHandler) {
	r.HandleFunc("/api/v0/snapshots", h.ClusterList).Methods(http.MethodGet)
	r.HandleFunc("/api/v0/snapshots/{cluster_name}", h.ClusterSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/v0/snapshots/{cluster_name}/{node_address}", h.NodeSnapshot).Methods(http.MethodGet)

	r.HandleFunc("/api/v0/incidents/{cluster_name}", h.Incidents).Methods(http.MethodGet)

	r.HandleFunc("/api/v0/load/{cluster_name}", h.Load).Methods(http.MethodGet)
}
