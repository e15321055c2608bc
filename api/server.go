// Package api exposes a persistence.Mapper over HTTP. Collection routes take
// their selectors from flat, dot-notated query strings and return the store's
// payloads as JSON.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

var errNotFound = errors.New("not found")

// Server routes HTTP requests to a mapper.
type Server struct {
	mapper       *persistence.Mapper
	logger       *zap.Logger
	mux          *http.ServeMux
	handler      http.Handler
	metrics      *Metrics
	registry     *prometheus.Registry
	cors         CORSConfig
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithRegistry registers the server's metrics with reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithCORS replaces the default CORS configuration.
func WithCORS(cfg CORSConfig) Option {
	return func(s *Server) {
		s.cors = cfg
	}
}

// NewServer creates a server over mapper and subscribes its metrics to the
// mapper's operation events.
func NewServer(mapper *persistence.Mapper, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mapper:       mapper,
		logger:       logger,
		mux:          http.NewServeMux(),
		cors:         DefaultCORSConfig(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)
	s.metrics.Observe(mapper)

	s.setupRoutes()
	s.handler = chain(s.mux,
		corsMiddleware(s.cors),
		loggingMiddleware(s.logger),
		s.metrics.Middleware,
	)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /_health", s.handleHealth)
	s.mux.Handle("GET /_metrics", s.metrics.Handler())

	s.mux.HandleFunc("GET /{collection}", s.handleQuery)
	s.mux.HandleFunc("POST /{collection}", s.handleInsert)
	s.mux.HandleFunc("PUT /{collection}", s.handleUpdateMany)
	s.mux.HandleFunc("DELETE /{collection}", s.handleDeleteMany)

	s.mux.HandleFunc("GET /{collection}/{id}", s.handleGetByID)
	s.mux.HandleFunc("PUT /{collection}/{id}", s.handleUpdateByID)
	s.mux.HandleFunc("DELETE /{collection}/{id}", s.handleDeleteByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.mapper.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, func(ctx context.Context) (any, error) {
		return s.mapper.Query(ctx, r.PathValue("collection"), params)
	})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, func(ctx context.Context) (any, error) {
		return s.mapper.Insert(ctx, r.PathValue("collection"), body)
	})
}

func (s *Server) handleUpdateMany(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, func(ctx context.Context) (any, error) {
		return s.mapper.UpdateMany(ctx, r.PathValue("collection"), params.Filter, body)
	})
}

func (s *Server) handleDeleteMany(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, func(ctx context.Context) (any, error) {
		return s.mapper.DeleteMany(ctx, r.PathValue("collection"), params.Filter)
	})
}

func (s *Server) handleGetByID(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, func(ctx context.Context) (any, error) {
		doc, found, err := s.mapper.GetByID(ctx, r.PathValue("collection"), r.PathValue("id"))
		return orNotFound(doc, found, err)
	})
}

func (s *Server) handleUpdateByID(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, func(ctx context.Context) (any, error) {
		res, found, err := s.mapper.UpdateByID(ctx, r.PathValue("collection"), r.PathValue("id"), body)
		return orNotFound(res, found, err)
	})
}

func (s *Server) handleDeleteByID(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, func(ctx context.Context) (any, error) {
		res, found, err := s.mapper.DeleteByID(ctx, r.PathValue("collection"), r.PathValue("id"))
		return orNotFound(res, found, err)
	})
}

// orNotFound turns a not-found result into errNotFound.
func orNotFound[T any](v T, found bool, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNotFound
	}
	return v, nil
}

// respond runs fn detached from the request's cancellation so an in-flight
// store call always completes, then writes its outcome unless the client has
// already gone away.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (any, error)) {
	result, err := fn(context.WithoutCancel(r.Context()))
	if r.Context().Err() != nil {
		s.logger.Debug("Client went away, discarding result",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.NamedError("storeError", err))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// requestParams normalizes the query string. Only the first value of a
// repeated key is used.
func requestParams(r *http.Request) (*query.Params, error) {
	normalized, err := query.Normalize(rawQuery(r.URL.Query()))
	if err != nil {
		return nil, err
	}
	return query.ParseParams(normalized)
}

func rawQuery(values url.Values) query.RawQuery {
	raw := make(query.RawQuery, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			raw[key] = vals[0]
		}
	}
	return raw
}

// readBody decodes a JSON request body. Integers decode as int64 when they
// fit, other numbers as float64.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (any, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: request body is empty", persistence.ErrInvalidBody)
	}
	body, err := query.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: request body is not valid JSON: %v", persistence.ErrInvalidBody, err)
	}
	return body, nil
}

// fail maps err onto a status code and writes the error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errNotFound):
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "Not Found")
	case errors.As(err, &tooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case persistence.IsClientError(err):
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// writeJSON encodes data before writing the status line, so a value that
// cannot be encoded turns into a 500 rather than an empty response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
		status = http.StatusInternalServerError
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: APIError{
			Code:    "INTERNAL_ERROR",
			Message: "failed to encode response",
		}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: APIError{Code: code, Message: message}})
}
