// Package api exposes a store over HTTP: JSON endpoints for the operations
// and an SSE relay for the event stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wix/kiss-fs/internal/auth"
	"github.com/wix/kiss-fs/internal/logging"
	"github.com/wix/kiss-fs/internal/metrics"
	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/store"
)

// CorrelationHeader carries the caller's correlation id on mutating requests.
const CorrelationHeader = "X-Correlation-Id"

// Server serves a store over HTTP.
type Server struct {
	store store.Store
	auth  *auth.Auth
	log   *zap.Logger
}

// Options configures a Server.
type Options struct {
	// JWTSecret enables bearer-token auth on /api/v1 when non-empty.
	JWTSecret string
	Logger    *zap.Logger
}

// NewServer creates an HTTP server over st.
func NewServer(st store.Store, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: st, log: log}
	if opts.JWTSecret != "" {
		s.auth = auth.New(opts.JWTSecret)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/tree", s.handleTree)
	api.HandleFunc("GET /api/v1/tree/{path...}", s.handleTree)
	api.HandleFunc("GET /api/v1/children", s.handleChildren)
	api.HandleFunc("GET /api/v1/children/{path...}", s.handleChildren)
	api.HandleFunc("GET /api/v1/files/{path...}", s.handleGetFile)
	api.HandleFunc("PUT /api/v1/files/{path...}", s.handlePutFile)
	api.HandleFunc("DELETE /api/v1/files/{path...}", s.handleDeleteFile)
	api.HandleFunc("PUT /api/v1/dirs/{path...}", s.handlePutDir)
	api.HandleFunc("DELETE /api/v1/dirs/{path...}", s.handleDeleteDir)
	api.HandleFunc("GET /api/v1/events", s.handleEvents)

	var apiHandler http.Handler = api
	if s.auth != nil {
		apiHandler = s.auth.Middleware(api)
	}
	mux.Handle("/api/v1/", apiHandler)

	return logging.Middleware(mux)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Code  int    `json:"code"`
}

type saveRequest struct {
	Content string `json:"content"`
}

type correlationResponse struct {
	CorrelationID string `json:"correlationId"`
}

type fileResponse struct {
	Path    string `json:"fullPath"`
	Content string `json:"content"`
}

type treeResponse struct {
	Root *models.Node `json:"root"`
}

type childrenResponse struct {
	Children []*models.Node `json:"children"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	kind := store.ErrorKind(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.sendJSON(w, code, errorResponse{Error: err.Error(), Kind: kind, Code: code})
}

func statusFor(kind string) int {
	switch kind {
	case store.KindInvalidPath, store.KindCannotDeleteRoot:
		return http.StatusBadRequest
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindPathIsDirectory, store.KindNotAFile,
		store.KindNotADirectory, store.KindDirectoryNotEmpty:
		return http.StatusConflict
	case store.KindConnection:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.store.LoadDirectoryTree(r.Context(), r.PathValue("path"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, treeResponse{Root: tree})
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.store.LoadDirectoryChildren(r.Context(), r.PathValue("path"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	if children == nil {
		children = []*models.Node{}
	}
	s.sendJSON(w, http.StatusOK, childrenResponse{Children: children})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	content, err := s.store.LoadTextFile(r.Context(), path)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, fileResponse{Path: path, Content: content})
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	op := newTimedOp("saveFile")
	path := r.PathValue("path")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		op.done(err)
		s.sendError(w, fmt.Errorf("read body: %w", err))
		return
	}
	var req saveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		op.done(err)
		s.sendJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid request body: " + err.Error(),
			Kind:  store.KindInternal,
			Code:  http.StatusBadRequest,
		})
		return
	}

	id, err := s.store.SaveFile(r.Context(), path, req.Content, r.Header.Get(CorrelationHeader))
	op.done(err)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, correlationResponse{CorrelationID: id})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	op := newTimedOp("deleteFile")
	id, err := s.store.DeleteFile(r.Context(), r.PathValue("path"), r.Header.Get(CorrelationHeader))
	op.done(err)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, correlationResponse{CorrelationID: id})
}

func (s *Server) handlePutDir(w http.ResponseWriter, r *http.Request) {
	op := newTimedOp("ensureDirectory")
	id, err := s.store.EnsureDirectory(r.Context(), r.PathValue("path"), r.Header.Get(CorrelationHeader))
	op.done(err)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, correlationResponse{CorrelationID: id})
}

func (s *Server) handleDeleteDir(w http.ResponseWriter, r *http.Request) {
	op := newTimedOp("deleteDirectory")
	recursive := r.URL.Query().Get("recursive") == "true"
	id, err := s.store.DeleteDirectory(r.Context(), r.PathValue("path"), recursive, r.Header.Get(CorrelationHeader))
	op.done(err)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, correlationResponse{CorrelationID: id})
}

// handleEvents streams the store's events as SSE. The optional kinds query
// parameter narrows the subscription, comma-separated.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, errors.New("streaming not supported"))
		return
	}

	var kinds []string
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if !events.ValidKind(k) {
				s.sendJSON(w, http.StatusBadRequest, errorResponse{
					Error: "unknown event kind: " + k,
					Kind:  store.KindInternal,
					Code:  http.StatusBadRequest,
				})
				return
			}
			kinds = append(kinds, k)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe(kinds...)
	defer s.store.Unsubscribe(ch)
	sseClients.inc()
	defer sseClients.dec()

	s.log.Info("event subscriber connected", zap.String("remote", r.RemoteAddr))

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.log.Info("event subscriber disconnected", zap.String("remote", r.RemoteAddr))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("cannot marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", ev.Kind)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			metrics.RecordSSEEvent(ev.Kind)
		}
	}
}
