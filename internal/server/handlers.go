package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leapscript/internal/state"
	"github.com/starfederation/datastar-go/datastar"
)

// maxBodyBytes bounds broadcast request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.health)
	r.Route("/scripts", func(r chi.Router) {
		r.Get("/", s.listScripts)
		r.Get("/{name}", s.getScript)
	})
	r.Post("/broadcast/{op}", s.broadcast)
	r.Get("/history", s.history)
	r.Get("/events", s.events)
}

type errorResponse struct {
	Error string `json:"error"`
}

// BroadcastResponse is the body returned by POST /broadcast/{op}.
type BroadcastResponse struct {
	Op      string            `json:"op"`
	Invoked int               `json:"invoked"`
	Failed  map[string]string `json:"failed,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"scripts": len(s.runtime.Scripts()),
		"pending": s.runtime.Pending(),
	})
}

func (s *Server) listScripts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runtime.Scripts())
}

func (s *Server) getScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := s.runtime.Lookup(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("script not found: %s", name)})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")

	args, err := decodeArgs(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res := s.runtime.Broadcast(op, args...)
	resp := BroadcastResponse{Op: op, Invoked: res.Invoked}
	if len(res.Failed) > 0 {
		resp.Failed = make(map[string]string, len(res.Failed))
		for name, ferr := range res.Failed {
			resp.Failed[name] = ferr.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// decodeArgs reads a JSON array of arguments. An empty body means no
// arguments. Integral numbers decode as int64, others as float64.
func decodeArgs(body io.Reader) ([]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args []any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("body must be a JSON array of arguments: %w", err)
	}
	for i, a := range args {
		args[i] = NormalizeNumbers(a)
	}
	return args, nil
}

// NormalizeNumbers replaces json.Number values, at any depth, with int64
// when integral and float64 otherwise.
func NormalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = NormalizeNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = NormalizeNumbers(val[k])
		}
		return val
	default:
		return v
	}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "journal is disabled"})
		return
	}

	filter := state.Filter{Script: r.URL.Query().Get("script")}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	entries, err := s.journal.Entries(r.Context(), filter)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []state.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// events streams lifecycle messages as server-sent events until the client
// goes away. Each message is one event named after its kind.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to encode event", slog.String("error", err.Error()))
				continue
			}
			if err := sse.Send(datastar.EventType(msg.Kind), []string{string(data)}); err != nil {
				s.logger.Debug("event stream closed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}
