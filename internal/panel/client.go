package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	clientAPIPrefix      = "/api/client"
	applicationAPIPrefix = "/api/application"
	maxPages             = 50
)

type scope int

const (
	scopeClient scope = iota
	scopeApplication
)

// Client implements Gateway over the panel's REST API. Server operations go
// through the client API with the client key; catalog browsing, allocation
// lookup and creation go through the application API with the admin key.
type Client struct {
	baseURL   string
	clientKey string
	appKey    string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit caps outgoing requests. The panel throttles per key and
// answers 429 when exceeded.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(cl *Client) {
		if perSecond <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

func NewClient(baseURL, clientKey, appKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		clientKey: clientKey,
		appKey:    appKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Gateway = (*Client)(nil)

// -- panel wire types --

type item[T any] struct {
	Object     string `json:"object"`
	Attributes T      `json:"attributes"`
}

type list[T any] struct {
	Data []item[T] `json:"data"`
	Meta struct {
		Pagination struct {
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

type apiErrors struct {
	Errors []struct {
		Code   string `json:"code"`
		Status string `json:"status"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

type wireServer struct {
	Server
	Relationships struct {
		Allocations list[Allocation] `json:"allocations"`
	} `json:"relationships"`
}

type wireResources struct {
	CurrentState string    `json:"current_state"`
	IsSuspended  bool      `json:"is_suspended"`
	Resources    Resources `json:"resources"`
}

type wireType struct {
	ID            int    `json:"id"`
	Nest          int    `json:"nest"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	DockerImage   string `json:"docker_image"`
	Startup       string `json:"startup"`
	Relationships struct {
		Variables list[Variable] `json:"variables"`
	} `json:"relationships"`
}

func (w wireType) toServerType() ServerType {
	return ServerType{
		ID:          w.ID,
		CategoryID:  w.Nest,
		Name:        w.Name,
		Description: w.Description,
		DockerImage: w.DockerImage,
		Startup:     w.Startup,
	}
}

type wireCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Relationships struct {
		Eggs list[wireType] `json:"eggs"`
	} `json:"relationships"`
}

type wireAllocation struct {
	ID       int    `json:"id"`
	IP       string `json:"ip"`
	Alias    string `json:"alias"`
	Port     int    `json:"port"`
	Assigned bool   `json:"assigned"`
}

type wireCreate struct {
	CreateRequest
	Allocation struct {
		Default int `json:"default"`
	} `json:"allocation"`
}

// -- Gateway --

func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	items, err := listAll[wireServer](ctx, c, scopeClient, clientAPIPrefix+"?include=allocations")
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	servers := make([]Server, 0, len(items))
	for _, w := range items {
		s := w.Server
		for _, a := range w.Relationships.Allocations.Data {
			s.Allocations = append(s.Allocations, a.Attributes)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func (c *Client) ServerResources(ctx context.Context, identifier string) (*Resources, error) {
	var out item[wireResources]
	path := fmt.Sprintf("%s/servers/%s/resources", clientAPIPrefix, url.PathEscape(identifier))
	if err := c.do(ctx, scopeClient, http.MethodGet, path, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("server resources %s: %w", identifier, err)
	}
	r := out.Attributes.Resources
	r.State = out.Attributes.CurrentState
	r.IsSuspended = out.Attributes.IsSuspended
	return &r, nil
}

func (c *Client) SendPowerSignal(ctx context.Context, identifier string, signal Signal) error {
	path := fmt.Sprintf("%s/servers/%s/power", clientAPIPrefix, url.PathEscape(identifier))
	body := map[string]string{"signal": string(signal)}
	if err := c.do(ctx, scopeClient, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("power %s %s: %w", signal, identifier, err)
	}
	return nil
}

func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	items, err := listAll[wireCategory](ctx, c, scopeApplication, applicationAPIPrefix+"/nests?include=eggs")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	cats := make([]Category, 0, len(items))
	for _, w := range items {
		cat := Category{ID: w.ID, Name: w.Name, Description: w.Description}
		for _, egg := range w.Relationships.Eggs.Data {
			st := egg.Attributes.toServerType()
			if st.CategoryID == 0 {
				st.CategoryID = w.ID
			}
			cat.Types = append(cat.Types, st)
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

func (c *Client) TypeDetails(ctx context.Context, categoryID, typeID int) (*TypeDetails, error) {
	var out item[wireType]
	path := fmt.Sprintf("%s/nests/%d/eggs/%d?include=variables", applicationAPIPrefix, categoryID, typeID)
	if err := c.do(ctx, scopeApplication, http.MethodGet, path, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("type details %d/%d: %w", categoryID, typeID, err)
	}
	d := &TypeDetails{ServerType: out.Attributes.toServerType()}
	for _, v := range out.Attributes.Relationships.Variables.Data {
		d.Variables = append(d.Variables, v.Attributes)
	}
	return d, nil
}

func (c *Client) FindFreeAllocation(ctx context.Context, nodeID int) (*Allocation, error) {
	path := fmt.Sprintf("%s/nodes/%d/allocations", applicationAPIPrefix, nodeID)
	items, err := listAll[wireAllocation](ctx, c, scopeApplication, path)
	if err != nil {
		return nil, fmt.Errorf("allocations for node %d: %w", nodeID, err)
	}
	for _, w := range items {
		if !w.Assigned {
			return &Allocation{ID: w.ID, IP: w.IP, Alias: w.Alias, Port: w.Port}, nil
		}
	}
	return nil, nil
}

func (c *Client) CreateServer(ctx context.Context, req CreateRequest) (*CreatedServer, error) {
	body := wireCreate{CreateRequest: req}
	body.Allocation.Default = req.AllocationID
	var out item[CreatedServer]
	if err := c.do(ctx, scopeApplication, http.MethodPost, applicationAPIPrefix+"/servers", body, &out); err != nil {
		return nil, fmt.Errorf("create server %q: %w", req.Name, err)
	}
	return &out.Attributes, nil
}

// -- transport --

func listAll[T any](ctx context.Context, c *Client, sc scope, path string) ([]T, error) {
	var all []T
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for page := 1; page <= maxPages; page++ {
		var resp list[T]
		if err := c.do(ctx, sc, http.MethodGet, fmt.Sprintf("%s%spage=%d", path, sep, page), nil, &resp); err != nil {
			return nil, err
		}
		for _, it := range resp.Data {
			all = append(all, it.Attributes)
		}
		if resp.Meta.Pagination.TotalPages <= page {
			break
		}
	}
	return all, nil
}

func (c *Client) do(ctx context.Context, sc scope, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	key := c.clientKey
	if sc == scopeApplication {
		key = c.appKey
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: stripQuery(path)}
		var ae apiErrors
		if json.Unmarshal(respBody, &ae) == nil && len(ae.Errors) > 0 {
			apiErr.Message = ae.Errors[0].Detail
		}
		c.logger.Debug("panel request failed", "method", method, "path", apiErr.Path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
