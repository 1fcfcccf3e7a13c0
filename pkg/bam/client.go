// Package bam is a client for the BlueCat Address Manager v2 REST API,
// limited to the resources needed to manage a response policy zone:
// configurations, response policies, policy items, servers and deployments.
package bam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"gitlab.bluewillows.net/root/rpzsync/pkg/httputil"
)

const (
	// MediaType is sent as both Accept and Content-Type.
	MediaType = "application/hal+json"

	// DefaultPageSize is the number of resources requested per list call.
	DefaultPageSize = 1000

	// DefaultDeployConcurrency bounds parallel deployment requests.
	DefaultDeployConcurrency = 4

	// maxErrorBody caps the response body kept in an APIError.
	maxErrorBody = 512
)

// BaseURL builds the API root for an appliance host, e.g. "http://10.0.0.5/api/v2".
func BaseURL(scheme, host string) string {
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/api/v2", scheme, strings.TrimSuffix(host, "/"))
}

// Client talks to one appliance over an authenticated session.
// A Client is safe for concurrent use once Login has succeeded.
type Client struct {
	baseURL           string
	username          string
	password          string
	httpClient        *http.Client
	logger            *slog.Logger
	pageSize          int
	deployConcurrency int

	mu    sync.RWMutex
	token string
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPageSize sets the page size used for list calls.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithDeployConcurrency bounds the number of parallel deployment requests.
func WithDeployConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.deployConcurrency = n
		}
	}
}

// NewClient creates a new appliance client. Login must be called before any other method.
func NewClient(baseURL, username, password string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		httpClient: httputil.NewClient(&httputil.ClientConfig{
			Headers: map[string]string{"Accept": MediaType},
		}),
		logger:            slog.Default(),
		pageSize:          DefaultPageSize,
		deployConcurrency: DefaultDeployConcurrency,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Login opens a session and stores the returned basic-auth credential.
// Any response other than 201 Created is an *AuthError.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Username: c.username, Password: c.password})
	if err != nil {
		return fmt.Errorf("marshaling login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Accept", MediaType)
	req.Header.Set("Content-Type", MediaType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading login response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return &AuthError{StatusCode: resp.StatusCode, Message: truncate(string(respBody))}
	}

	var session loginResponse
	if err := json.Unmarshal(respBody, &session); err != nil {
		return &AuthError{StatusCode: resp.StatusCode, Message: "parsing login response: " + err.Error()}
	}
	if session.Credentials == "" {
		return &AuthError{StatusCode: resp.StatusCode, Message: "login response carried no credentials"}
	}

	c.mu.Lock()
	c.token = session.Credentials
	c.mu.Unlock()

	c.logger.Info("appliance login OK", slog.String("user", c.username))
	return nil
}

// Ping verifies that the current session is usable.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("limit", "1")
	if _, err := c.do(ctx, http.MethodGet, "/configurations", q, nil, http.StatusOK); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// FindConfiguration returns the configuration named name, or the first
// configuration when name is empty.
func (c *Client) FindConfiguration(ctx context.Context, name string) (Configuration, bool, error) {
	q := url.Values{}
	if name != "" {
		q.Set("filter", nameFilter(name))
	}
	q.Set("limit", "1")

	var page collection[Configuration]
	if err := c.getJSON(ctx, "/configurations", q, &page); err != nil {
		return Configuration{}, false, fmt.Errorf("finding configuration: %w", err)
	}
	if len(page.Data) == 0 {
		return Configuration{}, false, nil
	}
	return page.Data[0], true, nil
}

// FindZone looks up a response policy by exact name.
// Zero matches is reported as found == false with a nil error.
func (c *Client) FindZone(ctx context.Context, name string) (PolicyZone, bool, error) {
	q := url.Values{}
	q.Set("filter", nameFilter(name))

	var page collection[PolicyZone]
	if err := c.getJSON(ctx, "/responsePolicies", q, &page); err != nil {
		return PolicyZone{}, false, fmt.Errorf("finding zone %s: %w", name, err)
	}

	c.logger.Debug("zone lookup",
		slog.String("zone", name),
		slog.Int("count", len(page.Data)),
	)

	for _, z := range page.Data {
		if z.Name == name {
			return z, true, nil
		}
	}
	return PolicyZone{}, false, nil
}

// CreateZone creates a blocklist response policy under the given configuration.
func (c *Client) CreateZone(ctx context.Context, configID ID, name string) (PolicyZone, error) {
	payload := createZoneRequest{
		Type:       "ResponsePolicy",
		Name:       name,
		PolicyType: PolicyTypeBlocklist,
		TTL:        DefaultZoneTTL,
	}

	path := "/configurations/" + url.PathEscape(configID.String()) + "/responsePolicies"
	body, err := c.do(ctx, http.MethodPost, path, nil, payload, http.StatusCreated)
	if err != nil {
		return PolicyZone{}, fmt.Errorf("creating zone %s: %w", name, err)
	}

	var zone PolicyZone
	if err := json.Unmarshal(body, &zone); err != nil {
		return PolicyZone{}, fmt.Errorf("parsing created zone: %w", err)
	}
	if zone.ID == "" {
		return PolicyZone{}, fmt.Errorf("creating zone %s: response carried no id", name)
	}
	if zone.Name == "" {
		zone.Name = name
	}

	c.logger.Info("created policy zone",
		slog.String("zone", zone.Name),
		slog.String("id", zone.ID.String()),
		slog.String("configuration", configID.String()),
	)
	return zone, nil
}

// ListItems returns every policy item attached to the zone, across all pages.
func (c *Client) ListItems(ctx context.Context, zoneID ID) ([]PolicyItem, error) {
	items, err := listAll[PolicyItem](ctx, c, itemsPath(zoneID), nil)
	if err != nil {
		return nil, fmt.Errorf("listing policy items: %w", err)
	}
	return items, nil
}

// FindItem looks up a policy item in the zone by exact domain name.
// When the zone holds several items for the domain the first is returned.
func (c *Client) FindItem(ctx context.Context, zoneID ID, domain string) (PolicyItem, bool, error) {
	items, err := c.findItems(ctx, zoneID, domain)
	if err != nil || len(items) == 0 {
		return PolicyItem{}, false, err
	}
	return items[0], true, nil
}

// findItems returns every item in the zone named exactly domain.
func (c *Client) findItems(ctx context.Context, zoneID ID, domain string) ([]PolicyItem, error) {
	q := url.Values{}
	q.Set("filter", nameFilter(domain))

	page, err := listAll[PolicyItem](ctx, c, itemsPath(zoneID), q)
	if err != nil {
		return nil, fmt.Errorf("finding item %s: %w", domain, err)
	}
	var out []PolicyItem
	for _, item := range page {
		if item.Name == domain {
			out = append(out, item)
		}
	}
	return out, nil
}

// AddItem attaches a domain to the zone.
func (c *Client) AddItem(ctx context.Context, zoneID ID, domain string) error {
	_, err := c.do(ctx, http.MethodPost, itemsPath(zoneID), nil, createItemRequest{Name: domain}, http.StatusCreated)
	if err != nil {
		return fmt.Errorf("adding %s: %w", domain, err)
	}
	return nil
}

// DeleteItem deletes a policy item by identifier.
func (c *Client) DeleteItem(ctx context.Context, itemID ID) error {
	path := "/policyItems/" + url.PathEscape(itemID.String())
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent, http.StatusOK)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", itemID, err)
	}
	return nil
}

// RemoveItem deletes every item carrying domain from the zone.
// It reports removed == false without an error when no such item exists,
// including when the items disappear between lookup and delete. A failed
// delete does not stop the remaining duplicates from being attempted.
func (c *Client) RemoveItem(ctx context.Context, zoneID ID, domain string) (bool, error) {
	items, err := c.findItems(ctx, zoneID, domain)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		c.logger.Info("domain already absent from appliance", slog.String("domain", domain))
		return false, nil
	}
	if len(items) > 1 {
		c.logger.Warn("zone holds duplicate items for domain",
			slog.String("domain", domain),
			slog.Int("items", len(items)),
		)
	}

	removed := false
	var firstErr error
	for _, item := range items {
		err := c.DeleteItem(ctx, item.ID)
		switch {
		case err == nil:
			removed = true
		case IsNotFound(err):
			c.logger.Info("item vanished before delete",
				slog.String("domain", domain),
				slog.String("id", item.ID.String()),
			)
		case IsUnauthorized(err):
			return removed, fmt.Errorf("removing %s: %w", domain, err)
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return removed, fmt.Errorf("removing %s: %w", domain, firstErr)
	}
	return removed, nil
}

// ListServers returns every deployable server.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	servers, err := listAll[Server](ctx, c, "/servers", nil)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	return servers, nil
}

// Deploy requests a differential DNS deployment on one server.
func (c *Client) Deploy(ctx context.Context, serverID ID) error {
	path := "/servers/" + url.PathEscape(serverID.String()) + "/deployments"
	payload := deploymentRequest{Type: "DifferentialDeployment", Service: "DNS"}
	if _, err := c.do(ctx, http.MethodPost, path, nil, payload, http.StatusCreated, http.StatusOK, http.StatusAccepted); err != nil {
		return fmt.Errorf("deploying to server %s: %w", serverID, err)
	}
	return nil
}

// DeploymentOutcome is the result of one deployment request.
type DeploymentOutcome struct {
	ServerID ID
	Err      error
}

// TriggerDeployments issues one deployment per server. A failure on one
// server never prevents attempts on the others. Outcomes keep input order.
func (c *Client) TriggerDeployments(ctx context.Context, serverIDs []ID) []DeploymentOutcome {
	outcomes := make([]DeploymentOutcome, len(serverIDs))

	var g errgroup.Group
	g.SetLimit(c.deployConcurrency)
	for i, id := range serverIDs {
		g.Go(func() error {
			err := c.Deploy(ctx, id)
			outcomes[i] = DeploymentOutcome{ServerID: id, Err: err}
			if err != nil {
				c.logger.Error("deployment failed",
					slog.String("server_id", id.String()),
					slog.String("error", err.Error()),
				)
			} else {
				c.logger.Debug("deployment requested", slog.String("server_id", id.String()))
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// listAll follows limit/offset paging until every resource has been read.
// A page that starts with the same resource as the previous one means the
// server ignored offset; that is reported as ErrPagingStalled rather than
// returning a partial or endless listing.
func listAll[T resource](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var all []T
	var prevFirst ID
	offset := 0

	for {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page collection[T]
		if err := c.getJSON(ctx, path, q, &page); err != nil {
			return nil, err
		}

		if len(page.Data) == 0 {
			break
		}
		first := page.Data[0].resourceID()
		if offset > 0 && first != "" && first == prevFirst {
			return nil, fmt.Errorf("%w: %s at offset %d", ErrPagingStalled, path, offset)
		}
		prevFirst = first

		all = append(all, page.Data...)
		offset += len(page.Data)

		if page.TotalCount > 0 {
			if offset >= page.TotalCount {
				break
			}
			continue
		}
		if page.Links.Next == nil && len(page.Data) < c.pageSize {
			break
		}
	}

	c.logger.Debug("listed collection",
		slog.String("path", path),
		slog.Int("count", len(all)),
	)
	return all, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil, http.StatusOK)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response from %s: %w", path, err)
	}
	return nil
}

// do performs an authenticated request and returns the body when the
// status is one of want. Any other status becomes an *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody any, want ...int) ([]byte, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return nil, ErrNotLoggedIn
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+token)
	req.Header.Set("Accept", MediaType)
	if reqBody != nil {
		req.Header.Set("Content-Type", MediaType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	for _, code := range want {
		if resp.StatusCode == code {
			return respBody, nil
		}
	}

	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       truncate(string(respBody)),
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return nil, apiErr
}

func itemsPath(zoneID ID) string {
	return "/responsePolicies/" + url.PathEscape(zoneID.String()) + "/policyItems"
}

// nameFilter builds the exact-match filter expression for a name.
func nameFilter(name string) string {
	return `name:"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
