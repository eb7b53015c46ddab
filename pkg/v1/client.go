package v1

import (
	"context"
	"fmt"
	"sync"

	"github.com/4thel00z/wizz/internal"
)

// Client provides programmatic access to a wizz workspace.
type Client struct {
	load     *internal.LoadUseCase
	link     *internal.LinkUseCase
	search   *internal.SearchUseCase
	ask      *internal.AskUseCase
	list     *internal.ListUseCase
	forget   *internal.ForgetUseCase
	scope    string
	resolver *internal.ScopeResolver

	mu         sync.Mutex
	workspaces map[string]*internal.Workspace
	opts       []internal.WorkspaceOption
}

// New creates a new Client with the given options. The workspace must
// already exist (see 'wizz init').
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Client{
		scope:      cfg.scope,
		resolver:   internal.NewScopeResolver(),
		workspaces: make(map[string]*internal.Workspace),
	}
	if cfg.logger != nil {
		c.opts = append(c.opts, internal.WithWorkspaceLogger(cfg.logger))
	}
	if cfg.tokenizer != nil {
		c.opts = append(c.opts, internal.WithTokenizer(cfg.tokenizer))
	}

	if scope := c.resolver.Resolve(c.scope); !scope.Exists() {
		return nil, fmt.Errorf("no workspace at %s", scope.WizzPath)
	}

	c.load = internal.NewLoadUseCase(c.resolver, c.workspace)
	c.link = internal.NewLinkUseCase(c.resolver, c.workspace)
	c.search = internal.NewSearchUseCase(c.resolver, c.workspace)
	c.ask = internal.NewAskUseCase(c.resolver, c.workspace)
	c.list = internal.NewListUseCase(c.resolver, c.workspace)
	c.forget = internal.NewForgetUseCase(c.resolver, c.workspace)
	return c, nil
}

func (c *Client) workspace(scope internal.Scope) (*internal.Workspace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ws, ok := c.workspaces[scope.WizzPath]; ok {
		return ws, nil
	}
	ws, err := internal.OpenWorkspace(scope, c.opts...)
	if err != nil {
		return nil, err
	}
	c.workspaces[scope.WizzPath] = ws
	return ws, nil
}

// Load ingests the documents under path into the named context.
func (c *Client) Load(ctx context.Context, contextName, path string) (*LoadReport, error) {
	r, err := c.load.Execute(ctx, internal.LoadInput{Context: contextName, Path: path, Scope: c.scope})
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return &LoadReport{Loaded: r.Loaded, Skipped: r.Skipped, Blobs: r.Blobs}, nil
}

// Link recomputes the outlier links of a context and returns their number.
func (c *Client) Link(ctx context.Context, contextName string) (int, error) {
	r, err := c.link.Execute(ctx, internal.LinkInput{Context: contextName, Scope: c.scope})
	if err != nil {
		return 0, fmt.Errorf("link: %w", err)
	}
	return r.Links, nil
}

// Search returns up to k passages nearest to query. k <= 0 uses the
// configured default.
func (c *Client) Search(ctx context.Context, contextName, query string, k int) ([]SearchResult, error) {
	out, err := c.search.Execute(ctx, internal.SearchInput{
		Context: contextName, Query: query, K: k, Scope: c.scope,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return toResults(out.Hits), nil
}

// Ask answers a single question with the named provider, or the default
// provider when empty.
func (c *Client) Ask(ctx context.Context, contextName, question, provider string) (*Answer, error) {
	a, err := c.ask.Execute(ctx, internal.AskInput{
		Context: contextName, Question: question, Provider: provider, Scope: c.scope,
	})
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	return &Answer{Query: a.Query, Text: a.Text, Results: toResults(a.Hits)}, nil
}

// Contexts lists every context of the workspace.
func (c *Client) Contexts(ctx context.Context) ([]Context, error) {
	out, err := c.list.Execute(ctx, internal.ListInput{Scope: c.scope})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	contexts := make([]Context, 0, len(out.Contexts))
	for _, s := range out.Contexts {
		contexts = append(contexts, Context{
			Name:      s.Name,
			Sources:   s.Sources,
			Blobs:     s.Blobs,
			Links:     s.Links,
			CreatedAt: s.CreatedAt,
		})
	}
	return contexts, nil
}

// Forget deletes a context with its documents and indices.
func (c *Client) Forget(ctx context.Context, contextName string) error {
	if err := c.forget.Execute(ctx, internal.ForgetInput{Context: contextName, Scope: c.scope}); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	return nil
}

// Close releases the workspaces opened by the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, ws := range c.workspaces {
		if err := ws.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.workspaces, key)
	}
	return firstErr
}

func toResults(hits []internal.SearchHit) []SearchResult {
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			Source: h.Source,
			Start:  h.Start,
			Text:   h.Text,
			Score:  h.Score,
		})
	}
	return results
}
