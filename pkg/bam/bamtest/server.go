// Package bamtest provides an in-memory appliance served over httptest,
// implementing the subset of the v2 API that pkg/bam uses.
package bamtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Token is the credential handed out by a successful login.
const Token = "dGVzdDp0b2tlbg=="

// Server is a fake appliance. All exported fields may be set before use;
// use the accessor methods once requests are in flight.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	username      string
	password      string
	nextID        int
	configs       []resource
	zones         []zone
	items         map[int]item
	servers       []resource
	deployments   []int
	failAdd       map[string]int
	failDelete    map[string]int
	failDeploy    map[int]int
	rejectSession bool
	requests      []string
}

type resource struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type zone struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	PolicyType      string `json:"policyType"`
	TTL             int    `json:"TTL"`
	ConfigurationID int    `json:"-"`
}

type item struct {
	ID     int
	Name   string
	ZoneID int
}

// NewServer starts a fake appliance accepting the given credentials.
// The server is pre-seeded with one configuration.
func NewServer(username, password string) *Server {
	s := &Server{
		username:   username,
		password:   password,
		nextID:     100,
		items:      make(map[int]item),
		failAdd:    make(map[string]int),
		failDelete: make(map[string]int),
		failDeploy: make(map[int]int),
	}
	s.configs = append(s.configs, resource{ID: s.allocID(), Name: "default"})
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL returns the API root to pass to bam.NewClient.
func (s *Server) BaseURL() string {
	return s.URL + "/api/v2"
}

func (s *Server) allocID() int {
	s.nextID++
	return s.nextID
}

// AddServer registers a deployable server and returns its id.
func (s *Server) AddServer(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	s.servers = append(s.servers, resource{ID: id, Name: name})
	return id
}

// AddZone creates a policy zone directly and returns its id.
func (s *Server) AddZone(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	s.zones = append(s.zones, zone{ID: id, Name: name, PolicyType: "BLOCKLIST", ConfigurationID: s.configs[0].ID})
	return id
}

// SeedItems attaches domains to a zone directly.
func (s *Server) SeedItems(zoneID int, domains ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range domains {
		id := s.allocID()
		s.items[id] = item{ID: id, Name: d, ZoneID: zoneID}
	}
}

// FailAdd makes the next n add requests for domain fail with a 500.
func (s *Server) FailAdd(domain string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAdd[domain] = n
}

// FailDelete makes the next n delete requests for domain fail with a 500.
func (s *Server) FailDelete(domain string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete[domain] = n
}

// FailDeploy makes the next n deployment requests for a server fail with a 500.
func (s *Server) FailDeploy(serverID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDeploy[serverID] = n
}

// RejectSession makes every authenticated call answer 401.
func (s *Server) RejectSession(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSession = reject
}

// ClearConfigurations removes every configuration.
func (s *Server) ClearConfigurations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = nil
}

// Zones returns the names of all zones.
func (s *Server) Zones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, z := range s.zones {
		names = append(names, z.Name)
	}
	return names
}

// ZoneID returns the id of the named zone, or 0.
func (s *Server) ZoneID(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, z := range s.zones {
		if z.Name == name {
			return z.ID
		}
	}
	return 0
}

// Domains returns the sorted domain names attached to a zone.
func (s *Server) Domains(zoneID int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, it := range s.items {
		if it.ZoneID == zoneID {
			out = append(out, it.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Deployments returns the server ids that received a successful deployment, in order.
func (s *Server) Deployments() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.deployments))
	copy(out, s.deployments)
	return out
}

// Requests returns "METHOD path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests matched method and path prefix.
func (s *Server) CountRequests(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" "+pathPrefix) {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v2")
	s.requests = append(s.requests, r.Method+" "+path)
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if r.Method == http.MethodPost && path == "/sessions" {
		s.login(w, r)
		return
	}

	if s.rejectSession || r.Header.Get("Authorization") != "Basic "+Token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "Unauthorized"})
		return
	}

	switch {
	case r.Method == http.MethodGet && path == "/configurations":
		list := make([]any, 0, len(s.configs))
		for _, c := range s.configs {
			if matchFilter(r, c.Name) {
				list = append(list, c)
			}
		}
		writePage(w, r, list)

	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "configurations" && parts[2] == "responsePolicies":
		s.createZone(w, r, parts[1])

	case r.Method == http.MethodGet && path == "/responsePolicies":
		list := []any{}
		for _, z := range s.zones {
			if matchFilter(r, z.Name) {
				list = append(list, z)
			}
		}
		writePage(w, r, list)

	case len(parts) == 3 && parts[0] == "responsePolicies" && parts[2] == "policyItems":
		zoneID, _ := strconv.Atoi(parts[1])
		if !s.hasZone(zoneID) {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "ObjectNotFound"})
			return
		}
		if r.Method == http.MethodGet {
			s.listItems(w, r, zoneID)
			return
		}
		if r.Method == http.MethodPost {
			s.addItem(w, r, zoneID)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)

	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "policyItems":
		id, _ := strconv.Atoi(parts[1])
		it, ok := s.items[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "ObjectNotFound"})
			return
		}
		if s.failDelete[it.Name] > 0 {
			s.failDelete[it.Name]--
			writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "InternalError"})
			return
		}
		delete(s.items, id)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && path == "/servers":
		list := make([]any, 0, len(s.servers))
		for _, srv := range s.servers {
			list = append(list, srv)
		}
		writePage(w, r, list)

	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "servers" && parts[2] == "deployments":
		id, _ := strconv.Atoi(parts[1])
		if !s.hasServer(id) {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "ObjectNotFound"})
			return
		}
		if s.failDeploy[id] > 0 {
			s.failDeploy[id]--
			writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "DeploymentFailed"})
			return
		}
		s.deployments = append(s.deployments, id)
		writeJSON(w, http.StatusCreated, map[string]any{"id": s.allocID(), "type": "DifferentialDeployment"})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NotFound"})
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BadRequest"})
		return
	}
	if req.Username != s.username || req.Password != s.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "InvalidCredentials"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":                             s.allocID(),
		"type":                           "UserSession",
		"basicAuthenticationCredentials": Token,
	})
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request, configID string) {
	cid, _ := strconv.Atoi(configID)
	found := false
	for _, c := range s.configs {
		if c.ID == cid {
			found = true
		}
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "ObjectNotFound"})
		return
	}

	var req zone
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "InvalidPayload"})
		return
	}
	req.ID = s.allocID()
	req.ConfigurationID = cid
	s.zones = append(s.zones, req)
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request, zoneID int) {
	var matched []item
	for _, it := range s.items {
		if it.ZoneID == zoneID && matchFilter(r, it.Name) {
			matched = append(matched, it)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	list := make([]any, 0, len(matched))
	for _, it := range matched {
		list = append(list, resource{ID: it.ID, Name: it.Name})
	}
	writePage(w, r, list)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request, zoneID int) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "InvalidPayload"})
		return
	}
	if s.failAdd[req.Name] > 0 {
		s.failAdd[req.Name]--
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "InternalError"})
		return
	}
	for _, it := range s.items {
		if it.ZoneID == zoneID && it.Name == req.Name {
			writeJSON(w, http.StatusConflict, map[string]string{"code": "DuplicateObject"})
			return
		}
	}
	id := s.allocID()
	s.items[id] = item{ID: id, Name: req.Name, ZoneID: zoneID}
	writeJSON(w, http.StatusCreated, resource{ID: id, Name: req.Name})
}

func (s *Server) hasZone(id int) bool {
	for _, z := range s.zones {
		if z.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) hasServer(id int) bool {
	for _, srv := range s.servers {
		if srv.ID == id {
			return true
		}
	}
	return false
}

// matchFilter applies an exact name:"value" filter when one is present.
func matchFilter(r *http.Request, name string) bool {
	f := r.URL.Query().Get("filter")
	if f == "" {
		return true
	}
	want := strings.TrimPrefix(f, "name:")
	want = strings.TrimSuffix(strings.TrimPrefix(want, `"`), `"`)
	want = strings.ReplaceAll(want, `\"`, `"`)
	return name == want
}

// writePage serves list with limit/offset paging and a next link.
func writePage(w http.ResponseWriter, r *http.Request, list []any) {
	total := len(list)
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := list[offset:end]

	links := map[string]any{"self": map[string]string{"href": r.URL.String()}}
	if end < total {
		q := r.URL.Query()
		q.Set("offset", strconv.Itoa(end))
		links["next"] = map[string]string{"href": r.URL.Path + "?" + q.Encode()}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(page),
		"totalCount": total,
		"data":       page,
		"_links":     links,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/hal+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
