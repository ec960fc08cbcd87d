//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/arbor/cluster"
	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/proto/api"
	"github.com/weaviate/arbor/tree"
)

type handler struct {
	store *cluster.Store
	svc   *cluster.Service
	log   logrus.FieldLogger
}

func newHandler(store *cluster.Store, svc *cluster.Service, log logrus.FieldLogger) http.Handler {
	h := &handler{store: store, svc: svc, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/nodes/", h.nodes)
	mux.HandleFunc("/v1/nodes", h.nodes)
	mux.HandleFunc("/v1/cluster/join", h.join)
	mux.HandleFunc("/v1/cluster/remove", h.remove)
	mux.HandleFunc("/v1/cluster/stats", h.stats)
	mux.HandleFunc("/v1/well-being/ready", h.ready)
	return mux
}

// putBody is the request body of PUT /v1/nodes/<path>. A missing payload
// writes a data-less node.
type putBody struct {
	Payload   *api.Payload             `json:"payload,omitempty"`
	KeepWhile []api.KeepWhileCondition `json:"keep_while,omitempty"`
}

type memberBody struct {
	ID    string `json:"id"`
	Addr  string `json:"addr,omitempty"`
	Voter bool   `json:"voter,omitempty"`
}

func (h *handler) nodes(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/v1/nodes"), "/")
	pat := pattern.ParsePattern(raw)

	switch r.Method {
	case http.MethodGet:
		opts := tree.Options{
			IncludeChildNames:  r.URL.Query().Get("child_names") == "true",
			ExpectSpecificNode: r.URL.Query().Get("specific") == "true",
		}
		resp, err := h.svc.Get(r.Context(), pat, opts)
		h.writeResult(w, resp.GetResult(), resp.GetError(), err)

	case http.MethodPut:
		var body putBody
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				h.writeError(w, http.StatusBadRequest, api.ErrorInvalidPattern, err.Error())
				return
			}
		}
		resp, err := h.svc.Put(pat, body.Payload, body.KeepWhile)
		h.writeResult(w, resp.GetResult(), resp.GetError(), err)

	case http.MethodDelete:
		resp, err := h.svc.Delete(pat)
		h.writeResult(w, resp.GetResult(), resp.GetError(), err)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handler) join(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body memberBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, api.ErrorInternal, err.Error())
		return
	}
	if err := h.store.Join(body.ID, body.Addr, body.Voter); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, api.ErrorInternal, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body memberBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, api.ErrorInternal, err.Error())
		return
	}
	if err := h.store.Remove(body.ID); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, api.ErrorInternal, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) writeResult(w http.ResponseWriter, result tree.ResultMap, reply *api.ErrorReply, err error) {
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, api.ErrorInternal, err.Error())
		return
	}
	if reply != nil {
		h.writeJSON(w, statusOf(reply.Kind), reply)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (h *handler) writeError(w http.ResponseWriter, status int, kind, detail string) {
	h.writeJSON(w, status, &api.ErrorReply{Kind: kind, Detail: detail})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("encode http response")
	}
}

func statusOf(kind string) int {
	switch kind {
	case api.ErrorNoMatchingNodes:
		return http.StatusNotFound
	case api.ErrorManyMatchingNodes:
		return http.StatusConflict
	case api.ErrorInvalidPath, api.ErrorInvalidPattern:
		return http.StatusBadRequest
	case api.ErrorResourceLimit:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
