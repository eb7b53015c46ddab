package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Use case input/output DTOs

type InitInput struct {
	Path   string
	Global bool
}

type InitOutput struct {
	Scope   Scope
	Created bool
}

type LoadInput struct {
	Context string
	Path    string
	Git     bool
	Scope   string
}

type LinkInput struct {
	Context string
	Scope   string
}

type SearchInput struct {
	Context string
	Query   string
	K       int
	Scope   string
}

type SearchOutput struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

type AskInput struct {
	Context  string
	Question string
	Provider string
	K        int
	Scope    string
}

type ListInput struct {
	Context string
	Scope   string
}

type ListOutput struct {
	Contexts []ContextSummary `json:"contexts,omitempty"`
	Sources  []*Source        `json:"sources,omitempty"`
}

type ForgetInput struct {
	Context string
	Scope   string
}

type IndexInput struct {
	Context string
	Scope   string
}

type LinksOutput struct {
	Context string  `json:"context"`
	Links   []*Link `json:"links"`
}

// WorkspaceFunc opens or returns the cached workspace of a scope.
type WorkspaceFunc func(Scope) (*Workspace, error)

func requireContext(name string) error {
	if name == "" {
		return fmt.Errorf("%w: context name required", ErrContextNotFound)
	}
	return nil
}

// Use cases

type InitUseCase struct {
	resolver *ScopeResolver
}

func NewInitUseCase(resolver *ScopeResolver) *InitUseCase {
	return &InitUseCase{resolver: resolver}
}

// Execute creates a workspace in Path (the current directory when empty),
// or the global one.
func (uc *InitUseCase) Execute(ctx context.Context, input InitInput) (*InitOutput, error) {
	var scope Scope
	switch {
	case input.Global:
		scope = uc.resolver.Global()
	default:
		dir := input.Path
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("get working directory: %w", err)
			}
			dir = wd
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", dir, err)
		}
		scope = Scope{Type: ScopeProject, Path: abs, WizzPath: filepath.Join(abs, DirName)}
	}

	created, err := InitWorkspace(scope)
	if err != nil {
		return nil, err
	}
	return &InitOutput{Scope: scope, Created: created}, nil
}

type LoadUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewLoadUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *LoadUseCase {
	return &LoadUseCase{resolver: resolver, workspace: workspace}
}

func (uc *LoadUseCase) Execute(ctx context.Context, input LoadInput) (*IngestReport, error) {
	if err := requireContext(input.Context); err != nil {
		return nil, err
	}

	var (
		src DocumentSource
		err error
	)
	if input.Git {
		src, err = OpenGitSource(input.Path)
	} else {
		src, err = OpenPathSource(input.Path)
	}
	if err != nil {
		return nil, err
	}

	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}
	kb, err := ws.Knowledge(true, true)
	if err != nil {
		return nil, err
	}
	return kb.Ingest(ctx, input.Context, src)
}

type LinkUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewLinkUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *LinkUseCase {
	return &LinkUseCase{resolver: resolver, workspace: workspace}
}

func (uc *LinkUseCase) Execute(ctx context.Context, input LinkInput) (*LinkReport, error) {
	if err := requireContext(input.Context); err != nil {
		return nil, err
	}
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}
	return ws.Linker().Run(ctx, input.Context)
}

type SearchUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewSearchUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *SearchUseCase {
	return &SearchUseCase{resolver: resolver, workspace: workspace}
}

func (uc *SearchUseCase) Execute(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	if err := requireContext(input.Context); err != nil {
		return nil, err
	}
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}

	k := input.K
	if k <= 0 {
		k = ws.Config.Retrieval.K
	}

	kb, err := ws.Knowledge(true, false)
	if err != nil {
		return nil, err
	}
	hits, err := kb.Search(ctx, input.Context, input.Query, k)
	if err != nil {
		return nil, err
	}
	return &SearchOutput{Query: input.Query, Hits: hits}, nil
}

type AskUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewAskUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *AskUseCase {
	return &AskUseCase{resolver: resolver, workspace: workspace}
}

// Session starts a chat over the context. The returned retriever keeps its
// own history and can be asked repeatedly.
func (uc *AskUseCase) Session(ctx context.Context, input AskInput) (*Retriever, error) {
	if err := requireContext(input.Context); err != nil {
		return nil, err
	}
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}

	if _, err := ws.Store.GetContext(ctx, input.Context); err != nil {
		return nil, err
	}

	kb, err := ws.Knowledge(true, false)
	if err != nil {
		return nil, err
	}
	provider, err := ws.Provider(ctx, input.Provider)
	if err != nil {
		return nil, err
	}
	prompts, err := ws.Prompts()
	if err != nil {
		return nil, err
	}

	k := input.K
	if k <= 0 {
		k = ws.Config.Retrieval.K
	}
	return NewRetriever(provider, kb, prompts, input.Context, k, ws.Config.Retrieval.ChatWindow), nil
}

func (uc *AskUseCase) Execute(ctx context.Context, input AskInput) (*Answer, error) {
	r, err := uc.Session(ctx, input)
	if err != nil {
		return nil, err
	}
	return r.Ask(ctx, input.Question)
}

type ListUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewListUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *ListUseCase {
	return &ListUseCase{resolver: resolver, workspace: workspace}
}

// Execute lists all contexts, or the sources of one when Context is set.
func (uc *ListUseCase) Execute(ctx context.Context, input ListInput) (*ListOutput, error) {
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}
	kb, err := ws.Knowledge(false, false)
	if err != nil {
		return nil, err
	}

	if input.Context != "" {
		sources, err := kb.Sources(ctx, input.Context)
		if err != nil {
			return nil, err
		}
		return &ListOutput{Sources: sources}, nil
	}

	contexts, err := kb.Contexts(ctx)
	if err != nil {
		return nil, err
	}
	return &ListOutput{Contexts: contexts}, nil
}

type LinksUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewLinksUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *LinksUseCase {
	return &LinksUseCase{resolver: resolver, workspace: workspace}
}

func (uc *LinksUseCase) Execute(ctx context.Context, input ListInput) (*LinksOutput, error) {
	if err := requireContext(input.Context); err != nil {
		return nil, err
	}
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}
	kb, err := ws.Knowledge(false, false)
	if err != nil {
		return nil, err
	}
	links, err := kb.Links(ctx, input.Context)
	if err != nil {
		return nil, err
	}
	return &LinksOutput{Context: input.Context, Links: links}, nil
}

type ForgetUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewForgetUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *ForgetUseCase {
	return &ForgetUseCase{resolver: resolver, workspace: workspace}
}

func (uc *ForgetUseCase) Execute(ctx context.Context, input ForgetInput) error {
	if err := requireContext(input.Context); err != nil {
		return err
	}
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return err
	}
	kb, err := ws.Knowledge(false, false)
	if err != nil {
		return err
	}
	return kb.Forget(ctx, input.Context)
}

type RebuildIndexUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewRebuildIndexUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *RebuildIndexUseCase {
	return &RebuildIndexUseCase{resolver: resolver, workspace: workspace}
}

// Execute rebuilds the indices of one context, or of every context when
// Context is empty. It returns the names of the rebuilt contexts.
func (uc *RebuildIndexUseCase) Execute(ctx context.Context, input IndexInput) ([]string, error) {
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}
	kb, err := ws.Knowledge(false, false)
	if err != nil {
		return nil, err
	}

	names, err := contextNames(ctx, ws.Store, input.Context)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := kb.Rebuild(ctx, name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

type IndexStatusUseCase struct {
	resolver  *ScopeResolver
	workspace WorkspaceFunc
}

func NewIndexStatusUseCase(resolver *ScopeResolver, workspace WorkspaceFunc) *IndexStatusUseCase {
	return &IndexStatusUseCase{resolver: resolver, workspace: workspace}
}

func (uc *IndexStatusUseCase) Execute(ctx context.Context, input IndexInput) ([]IndexStatus, error) {
	ws, err := uc.workspace(uc.resolver.Resolve(input.Scope))
	if err != nil {
		return nil, err
	}
	kb, err := ws.Knowledge(false, false)
	if err != nil {
		return nil, err
	}

	names, err := contextNames(ctx, ws.Store, input.Context)
	if err != nil {
		return nil, err
	}

	var out []IndexStatus
	for _, name := range names {
		st, err := kb.IndexStatus(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st...)
	}
	return out, nil
}

func contextNames(ctx context.Context, store KnowledgeStore, name string) ([]string, error) {
	if name != "" {
		kc, err := store.GetContext(ctx, name)
		if err != nil {
			return nil, err
		}
		return []string{kc.Name}, nil
	}

	contexts, err := store.ListContexts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(contexts))
	for i, kc := range contexts {
		names[i] = kc.Name
	}
	return names, nil
}
