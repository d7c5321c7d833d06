package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/internal/agent"
	"github.com/vitebski/sqlagent/pkg/models"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// Server exposes the agent over HTTP
type Server struct {
	Agent  *agent.Agent
	Logger *logrus.Logger
}

// New creates a new server
func New(a *agent.Agent, logger *logrus.Logger) *Server {
	return &Server{Agent: a, Logger: logger}
}

// Router returns the route table
func (s *Server) Router() *httprouter.Router {
	router := httprouter.New()
	router.POST("/api/v1/run", s.Run)
	router.DELETE("/api/v1/cache", s.ResetCache)
	router.DELETE("/api/v1/cache/:kind", s.ResetCache)
	router.GET("/api/v1/capabilities", s.Capabilities)
	router.NotFound = http.HandlerFunc(NotFound)
	router.RedirectTrailingSlash = true
	return router
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Infof("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

// NotFound answers unknown routes with a JSON error
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Run handles a JSON structured request, a JSON string, or a text/plain prompt
func (s *Server) Run(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read request body"})
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, s.Agent.RunText(r.Context(), string(body)))
		return
	}

	input, err := decodeInput(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":      err.Error(),
			"suggestion": `send {"prompt": "...", "connection": {"type": "mysql"}} or a JSON string`,
		})
		return
	}

	res := s.Agent.Run(r.Context(), input)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func decodeInput(body []byte) (agent.Input, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var prompt string
		if err := json.Unmarshal(trimmed, &prompt); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return agent.BareText(prompt), nil
	}

	var structured agent.Structured
	if err := json.Unmarshal(trimmed, &structured); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return structured, nil
}

// ResetCache drops cached connections and mappings, for one kind when given
func (s *Server) ResetCache(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var kinds []models.Kind
	if name := p.ByName("kind"); name != "" {
		kind, ok := models.ParseKind(name)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown database type %q", name)})
			return
		}
		kinds = append(kinds, kind)
	}

	if err := s.Agent.ResetCache(kinds...); err != nil {
		s.Logger.Warningf("Cache reset reported errors: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Capabilities returns the capability report
func (s *Server) Capabilities(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	report := s.Agent.Capabilities()
	if report == nil {
		report = models.CapabilityReport{}
	}
	writeJSON(w, http.StatusOK, report)
}
