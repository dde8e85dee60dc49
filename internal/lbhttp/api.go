package lbhttp

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/shmel1k/yblb/internal/api"
)

const (
	paramClusterName = "cluster_name"
	paramNodeAddress = "node_address"
)

const (
	msgMarshallingError = "failed to marshal data"
	msgInvalidParams    = "one or more parameters are invalid"
)

type APIHandler interface {
	ClusterList(http.ResponseWriter, *http.Request)
	ClusterSnapshot(http.ResponseWriter, *http.Request)
	NodeSnapshot(http.ResponseWriter, *http.Request)
	Incidents(http.ResponseWriter, *http.Request)
	Load(http.ResponseWriter, *http.Request)
}

type apiHandler struct {
	apiSrv api.Service
	logger zerolog.Logger
}

func NewHandler(logger zerolog.Logger, apiSrv api.Service) APIHandler {
	return &apiHandler{
		logger: logger,
		apiSrv: apiSrv,
	}
}

func (a *apiHandler) ClusterList(w http.ResponseWriter, r *http.Request) {
	resp, err := a.apiSrv.ClustersList(r.Context())
	if err != nil {
		a.writeResponse(w, newInternalErrResponse("failed to get cluster list", err))
		return
	}

	a.writeJSON(w, resp)
}

// nolint: dupl
func (a *apiHandler) ClusterSnapshot(w http.ResponseWriter, r *http.Request) {
	reqParams := parseParams(mux.Vars(r))
	if reqParams.clusterName == "" {
		a.writeResponse(w, newBadRequestResponse(msgInvalidParams))
		return
	}

	snap, err := a.apiSrv.ClusterSnapshot(r.Context(), reqParams.clusterName)
	if err != nil {
		if err == api.ErrEmptyResult {
			a.writeResponse(w, newBadRequestResponse(`cluster snapshot not found`))
			return
		}
		a.writeResponse(w, newInternalErrResponse("failed get cluster snapshot", err))
		return
	}

	a.writeJSON(w, snap)
}

func (a *apiHandler) NodeSnapshot(w http.ResponseWriter, r *http.Request) {
	reqParams := parseParams(mux.Vars(r))
	if reqParams.clusterName == "" || reqParams.nodeAddress == "" {
		a.writeResponse(w, newBadRequestResponse(msgInvalidParams))
		return
	}

	node, err := a.apiSrv.Node(r.Context(), reqParams.clusterName, reqParams.nodeAddress)
	if err != nil {
		if err == api.ErrEmptyResult {
			a.writeResponse(w, newBadRequestResponse(`cluster or node snapshots not found`))
			return
		}
		a.writeResponse(w, newInternalErrResponse("failed get node snapshot", err))
		return
	}

	a.writeJSON(w, node)
}

func (a *apiHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	reqParams := parseParams(mux.Vars(r))
	if reqParams.clusterName == "" {
		a.writeResponse(w, newBadRequestResponse(msgInvalidParams))
		return
	}

	incidents, err := a.apiSrv.Incidents(r.Context(), reqParams.clusterName)
	if err != nil {
		a.writeResponse(w, newInternalErrResponse("failed get cluster incidents", err))
		return
	}

	a.writeJSON(w, incidents)
}

// nolint: dupl
func (a *apiHandler) Load(w http.ResponseWriter, r *http.Request) {
	reqParams := parseParams(mux.Vars(r))
	if reqParams.clusterName == "" {
		a.writeResponse(w, newBadRequestResponse(msgInvalidParams))
		return
	}

	load, err := a.apiSrv.Load(r.Context(), reqParams.clusterName)
	if err != nil {
		if err == api.ErrEmptyResult {
			a.writeResponse(w, newBadRequestResponse(`cluster not found`))
			return
		}
		a.writeResponse(w, newInternalErrResponse("failed get cluster load", err))
		return
	}

	a.writeJSON(w, load)
}

func (a *apiHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		a.writeResponse(w, newInternalErrResponse(msgMarshallingError, err))
		return
	}

	a.writeResponse(w, newOKResponse(data))
}

func (a *apiHandler) writeResponse(w http.ResponseWriter, resp response) {
	if resp.err != nil {
		a.logger.Err(resp.err).Msg(string(resp.data))
	}

	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.statusCode)

	_, err := w.Write(resp.data)
	if err != nil {
		a.logger.Err(err).Msg("failed to write response")
	}
}

