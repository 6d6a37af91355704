// Package ironictest provides an in-memory Ironic API for tests.
package ironictest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// CreatedAt is the creation timestamp stamped on every new node.
const CreatedAt = "2026-01-01T00:00:00+00:00"

var provisionVerbs = map[string]string{
	"manage":  "manageable",
	"provide": "available",
}

type transition struct {
	target string
	polls  int
}

// Server is a minimal Ironic API. Requested provision state changes land
// immediately unless SetSettleAfter delays them.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	nodes       map[string]map[string]any
	ports       map[string]map[string]any
	pending     map[string]*transition
	failures    map[string]int
	settleAfter int
	calls       []string
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		nodes:    map[string]map[string]any{},
		ports:    map[string]map[string]any{},
		pending:  map[string]*transition{},
		failures: map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(t, w, r)
	}))
	s.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(s.Close)
	return s
}

// Fail forces status for every "METHOD path" request.
func (s *Server) Fail(call string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[call] = status
}

// SetSettleAfter makes provision state changes land only after n node reads.
// A negative n means they never land.
func (s *Server) SetSettleAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleAfter = n
}

// PutNode stores node as is.
func (s *Server) PutNode(node map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node["uuid"].(string)] = node
}

// UpdateNode runs fn on the stored node.
func (s *Server) UpdateNode(id string, fn func(node map[string]any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.nodes[id]; ok {
		fn(node)
	}
}

// Node returns the stored node, or nil.
func (s *Server) Node(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

// Ports returns all stored ports.
func (s *Server) Ports() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.ports))
	for _, p := range s.ports {
		out = append(out, p)
	}
	return out
}

// CallCount returns how often "METHOD path" was requested.
func (s *Server) CallCount(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (s *Server) serve(t *testing.T, w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := r.Method + " " + r.URL.Path
	s.calls = append(s.calls, call)
	if code, ok := s.failures[call]; ok {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error_message":"{\"faultstring\":\"forced failure\"}"}`))
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/nodes":
		nodes := make([]any, 0, len(s.nodes))
		for _, n := range s.nodes {
			nodes = append(nodes, n)
		}
		writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/nodes":
		var node map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&node))
		node["provision_state"] = "enroll"
		node["maintenance"] = false
		node["created_at"] = CreatedAt
		s.nodes[node["uuid"].(string)] = node
		writeJSON(w, http.StatusCreated, node)
	case len(parts) == 3 && parts[1] == "nodes":
		node, ok := s.nodes[parts[2]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error_message": "not found"})
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.advance(parts[2], node)
			writeJSON(w, http.StatusOK, node)
		case http.MethodPatch:
			var ops []map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
			applyPatch(t, node, ops)
			writeJSON(w, http.StatusOK, node)
		}
	case len(parts) == 5 && parts[1] == "nodes" && parts[3] == "states":
		node, ok := s.nodes[parts[2]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		target, ok := provisionVerbs[body["target"]]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.settleAfter == 0 {
			node["provision_state"] = target
		} else {
			s.pending[parts[2]] = &transition{target: target, polls: s.settleAfter}
		}
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/ports":
		nodeID := r.URL.Query().Get("node")
		ports := []any{}
		for _, p := range s.ports {
			if p["node_uuid"] == nodeID {
				ports = append(ports, p)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/ports":
		var p map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		p["uuid"] = uuid.NewString()
		s.ports[p["uuid"].(string)] = p
		writeJSON(w, http.StatusCreated, p)
	case len(parts) == 3 && parts[1] == "ports":
		p, ok := s.ports[parts[2]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodPatch:
			var ops []map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
			applyPatch(t, p, ops)
			writeJSON(w, http.StatusOK, p)
		case http.MethodDelete:
			delete(s.ports, parts[2])
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		t.Errorf("unexpected request %s", call)
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// advance counts a node read against a pending provision state change.
func (s *Server) advance(id string, node map[string]any) {
	tr, ok := s.pending[id]
	if !ok || tr.polls < 0 {
		return
	}
	tr.polls--
	if tr.polls <= 0 {
		node["provision_state"] = tr.target
		delete(s.pending, id)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// applyPatch applies add, replace and remove operations on object paths.
func applyPatch(t *testing.T, doc map[string]any, ops []map[string]any) {
	t.Helper()
	for _, op := range ops {
		path := strings.Split(strings.TrimPrefix(op["path"].(string), "/"), "/")
		parent := doc
		for _, seg := range path[:len(path)-1] {
			next, ok := parent[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				parent[seg] = next
			}
			parent = next
		}
		leaf := path[len(path)-1]
		switch op["op"] {
		case "add", "replace":
			parent[leaf] = op["value"]
		case "remove":
			delete(parent, leaf)
		default:
			t.Errorf("unsupported patch op %v", op["op"])
		}
	}
}
