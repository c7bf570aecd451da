// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/Query-farm/swat-go/cas"
)

// HttpServer serves the REST dialect of a Server.
//
//	PUT    /cas/sessions                          create a session
//	POST   /cas/sessions/{id}                     reattach to a session
//	POST   /cas/sessions/{id}/actions/{action}    run an action
//	DELETE /cas/sessions/{id}                     end a session
//
// Request and response bodies may be zstd-compressed.
type HttpServer struct {
	server *Server
	mux    *http.ServeMux
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewHttpServer creates the REST handler for server.
func NewHttpServer(server *Server) *HttpServer {
	h := &HttpServer{server: server, mux: http.NewServeMux()}
	h.enc, _ = zstd.NewWriter(nil)
	h.dec, _ = zstd.NewReader(nil)
	h.mux.HandleFunc("PUT /cas/sessions", h.handleCreate)
	h.mux.HandleFunc("POST /cas/sessions/{id}", h.handleAttach)
	h.mux.HandleFunc("POST /cas/sessions/{id}/actions/{action}", h.handleAction)
	h.mux.HandleFunc("DELETE /cas/sessions/{id}", h.handleEnd)
	return h
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HttpServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	user, pass, _ := r.BasicAuth()
	if h.server.checkCredentials(user, pass) {
		return true
	}
	h.writeJSON(w, r, http.StatusUnauthorized, map[string]string{"error": "Authentication failed."})
	return false
}

func (h *HttpServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	sess := h.server.newSession()
	h.writeJSON(w, r, http.StatusOK, map[string]string{"session": sess.ID})
}

func (h *HttpServer) handleAttach(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	id := r.PathValue("id")
	if _, ok := h.server.Session(id); !ok {
		h.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Session '%s' was not found.", id)})
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"session": id})
}

func (h *HttpServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	id := r.PathValue("id")
	if !h.server.endSession(id) {
		h.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Session '%s' was not found.", id)})
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"session": id})
}

func (h *HttpServer) handleAction(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	sess, ok := h.server.Session(r.PathValue("id"))
	if !ok {
		h.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "Session not found."})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Header.Get("Content-Encoding") == "zstd" {
		if body, err = h.dec.DecodeAll(body, nil); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	var params cas.ParamList
	if len(bytes.TrimSpace(body)) > 0 {
		if params, err = cas.UnmarshalParamsJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	em := &restEmitter{}
	defer em.release()
	final, err := h.server.dispatch(r.Context(), sess, r.PathValue("action"), params, em)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := em.response(final)
	var buf bytes.Buffer
	if err := cas.EncodeRESTReply(&buf, resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.write(w, r, http.StatusOK, buf.Bytes())
}

func (h *HttpServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.write(w, r, status, data)
}

func (h *HttpServer) write(w http.ResponseWriter, r *http.Request, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
		w.Header().Set("Content-Encoding", "zstd")
		data = h.enc.EncodeAll(data, nil)
	}
	w.WriteHeader(status)
	w.Write(data)
}

// restEmitter collects an action's output into one reply. A chunk carrying
// the action-restart flag discards what was collected before it.
type restEmitter struct {
	messages []string
	results  []cas.ResultItem
}

func (e *restEmitter) log(msg string) error {
	e.messages = append(e.messages, msg)
	return nil
}

func (e *restEmitter) result(key string, t *cas.Table, v cas.Value, replace bool) error {
	if t == nil {
		// one reply carries one value per key
		if i := slices.IndexFunc(e.results, func(it cas.ResultItem) bool { return it.Key == key }); i >= 0 && replace {
			if old, ok := e.results[i].Value.(*cas.Table); ok {
				old.Release()
			}
			e.results[i].Value = v
			return nil
		}
		e.results = append(e.results, cas.ResultItem{Key: key, Value: v, Replace: replace})
		return nil
	}
	// JSON object keys must be unique, so by-group replicas carry their
	// position in the key.
	prefix := ""
	if set, ok := t.ByGroupSet(); ok {
		prefix = fmt.Sprintf("ByGroupSet%d.", set)
	}
	if g, ok := t.ByGroupIndex(); ok {
		prefix += fmt.Sprintf("ByGroup%d.", g)
	}
	e.results = append(e.results, cas.ResultItem{Key: prefix + key, Value: t, Replace: replace})
	return nil
}

func (e *restEmitter) chunk(f *cas.Frame) error {
	for _, flag := range f.UpdateFlags {
		if flag == cas.FlagActionRestart {
			e.release()
			e.messages = nil
			e.results = nil
		}
	}
	return nil
}

func (e *restEmitter) response(final *cas.Frame) *cas.Response {
	return &cas.Response{
		Messages:    e.messages,
		Disposition: final.Disposition,
		Performance: final.Performance,
		Results:     e.results,
		UpdateFlags: final.UpdateFlags,
		Final:       true,
		Session:     final.Session,
		SessionName: final.SessionName,
	}
}

func (e *restEmitter) release() {
	for _, item := range e.results {
		if t, ok := item.Value.(*cas.Table); ok {
			t.Release()
		}
	}
}
