package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/hupe1980/agentcoop/core"
)

// Version reported by the info and health endpoints.
const Version = "0.1.0"

func (s *Server) registerRESTRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/agents", s.guard(s.restAgents))
	mux.HandleFunc("/api/tasks", s.guard(s.restTasks))
	mux.HandleFunc("/api/contexts", s.guard(s.restContexts))
	mux.HandleFunc("/api/messages/send", s.guard(s.restSendMessage))
	mux.HandleFunc("/api/messages/broadcast", s.guard(s.restBroadcast))
	mux.HandleFunc("/api/status", s.guard(s.restStatus))
}

// guard applies authentication and rate limiting to a REST handler.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := s.authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
			return
		}
		if r.Method != http.MethodGet && !authCtx.Permissions.Write {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "write permission required"})
			return
		}
		if s.limiter != nil {
			clientID := authCtx.AgentID
			if clientID == "" || clientID == "anonymous" {
				if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
					clientID = host
				} else {
					clientID = r.RemoteAddr
				}
			}
			if !s.limiter.Allow(clientID) {
				w.Header().Set("Retry-After", s.limiter.TimeUntilReset(clientID).Round(time.Second).String())
				writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
				return
			}
		}

		start := time.Now()
		next(w, r)
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordRequest("rest:"+r.URL.Path, time.Since(start), false)
		}
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "agentcoop",
		"version":   Version,
		"websocket": "/ws",
		"health":    "/health",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	connected := len(s.conns)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        Version,
		"uptime_seconds": time.Since(s.started).Seconds(),
		"connections":    connected,
		"agents":         s.coop.Registry.Count(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.opts.Metrics.Prometheus()))
}

func (s *Server) restAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.coop.GetAllAgents())
	case http.MethodPost:
		var reg core.AgentRegistration
		if !decodeBody(w, r, &reg) {
			return
		}
		if reg.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "agent name is required"})
			return
		}
		writeJSON(w, http.StatusCreated, s.coop.RegisterAgent(reg))
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) restTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if status := r.URL.Query().Get("status"); status != "" {
			writeJSON(w, http.StatusOK, s.coop.Orchestrator.GetByStatus(core.TaskStatus(status)))
			return
		}
		writeJSON(w, http.StatusOK, s.coop.GetAllTasks())
	case http.MethodPost:
		var p struct {
			Task      core.TaskRequest `json:"task"`
			CreatedBy string           `json:"created_by"`
		}
		if !decodeBody(w, r, &p) {
			return
		}
		if p.Task.Type == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "task type is required"})
			return
		}
		writeJSON(w, http.StatusCreated, s.coop.CreateTask(p.Task, p.CreatedBy))
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) restContexts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
			writeJSON(w, http.StatusOK, s.coop.GetContextsForAgent(agentID))
			return
		}
		writeJSON(w, http.StatusOK, s.coop.Context.GetAll())
	case http.MethodPost:
		var p struct {
			Context   core.ContextCreateRequest `json:"context"`
			CreatedBy string                    `json:"created_by"`
		}
		if !decodeBody(w, r, &p) {
			return
		}
		if p.Context.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "context name is required"})
			return
		}
		writeJSON(w, http.StatusCreated, s.coop.CreateContext(p.Context, p.CreatedBy))
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) restSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var p struct {
		From    string         `json:"from"`
		To      string         `json:"to"`
		Content string         `json:"content"`
		Data    map[string]any `json:"data,omitempty"`
	}
	if !decodeBody(w, r, &p) {
		return
	}
	if p.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message recipient is required"})
		return
	}
	writeJSON(w, http.StatusCreated, s.coop.SendMessage(p.From, p.To, p.Content, p.Data))
}

func (s *Server) restBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var p struct {
		From  string         `json:"from"`
		Event string         `json:"event"`
		Data  map[string]any `json:"data,omitempty"`
	}
	if !decodeBody(w, r, &p) {
		return
	}
	writeJSON(w, http.StatusCreated, s.coop.BroadcastMessage(p.From, p.Event, p.Data))
}

func (s *Server) restStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.coop.GetStatus())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
