package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const (
	DefaultChatWindow = 10
	DefaultSearchK    = 5
	resultSeparator   = "\n----\n"
)

// Searcher finds the blobs of a context closest to a free text query.
type Searcher interface {
	Search(ctx context.Context, contextName, query string, k int) ([]SearchHit, error)
}

type Answer struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
	Text  string      `json:"answer"`
}

// Retriever is a chat session that answers questions from one context. It
// keeps the last window messages of the conversation.
type Retriever struct {
	provider    Provider
	searcher    Searcher
	prompts     *Prompts
	contextName string
	k           int
	window      int

	mu      sync.Mutex
	history []ChatMessage
}

func NewRetriever(provider Provider, searcher Searcher, prompts *Prompts, contextName string, k, window int) *Retriever {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if window <= 0 {
		window = DefaultChatWindow
	}
	return &Retriever{
		provider:    provider,
		searcher:    searcher,
		prompts:     prompts,
		contextName: contextName,
		k:           k,
		window:      window,
	}
}

func (r *Retriever) History() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChatMessage(nil), r.history...)
}

func (r *Retriever) remember(msgs ...ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, msgs...)
	if over := len(r.history) - r.window; over > 0 {
		r.history = append([]ChatMessage(nil), r.history[over:]...)
	}
}

func (r *Retriever) transcript(msgs ...ChatMessage) string {
	var all []ChatMessage
	if r.prompts.System != "" {
		all = append(all, ChatMessage{Role: RoleSystem, Content: r.prompts.System})
	}
	all = append(all, r.History()...)
	all = append(all, msgs...)
	return renderTranscript(all)
}

// ConstructQuery turns the user message into a search query. The user
// message joins the history once a query was produced.
func (r *Retriever) ConstructQuery(ctx context.Context, message string) (string, error) {
	user := ChatMessage{Role: RoleUser, Content: message}
	prompt := r.transcript(append([]ChatMessage{user}, r.prompts.ConstructQuery...)...)

	var sq SearchQuery
	query := ""
	if err := r.provider.GenerateObject(ctx, prompt, &sq); err == nil {
		query = sq.Query
	}
	if strings.TrimSpace(query) == "" {
		text, err := r.provider.Complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("construct query: %w", err)
		}
		query = text
	}

	query = strings.TrimSpace(query)
	if query != "" {
		r.remember(user)
	}
	return query, nil
}

func (r *Retriever) answerPrompt(query string, hits []SearchHit) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	chain := r.prompts.IntegrateSearch.Format(map[string]string{
		"search_query":   query,
		"search_results": strings.Join(texts, resultSeparator),
	})
	return r.transcript(chain...)
}

// Ask constructs a query, searches the context and answers from the hits.
func (r *Retriever) Ask(ctx context.Context, question string) (*Answer, error) {
	query, hits, err := r.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	text, err := r.provider.Complete(ctx, r.answerPrompt(query, hits))
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}
	text = strings.TrimSpace(text)
	r.remember(ChatMessage{Role: RoleAssistant, Content: text})

	return &Answer{Query: query, Hits: hits, Text: text}, nil
}

// AskStream is Ask with the answer delivered incrementally. The answer is
// added to the history once the channel is drained.
func (r *Retriever) AskStream(ctx context.Context, question string) (*Answer, <-chan string, error) {
	query, hits, err := r.retrieve(ctx, question)
	if err != nil {
		return nil, nil, err
	}

	in, err := r.provider.Stream(ctx, r.answerPrompt(query, hits))
	if err != nil {
		return nil, nil, fmt.Errorf("answer: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		var sb strings.Builder
		for chunk := range in {
			sb.WriteString(chunk)
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
		}
		r.remember(ChatMessage{Role: RoleAssistant, Content: strings.TrimSpace(sb.String())})
	}()

	return &Answer{Query: query, Hits: hits}, out, nil
}

func (r *Retriever) retrieve(ctx context.Context, question string) (string, []SearchHit, error) {
	query, err := r.ConstructQuery(ctx, question)
	if err != nil {
		return "", nil, err
	}
	if query == "" {
		query = question
	}

	hits, err := r.searcher.Search(ctx, r.contextName, query, r.k)
	if err != nil {
		return "", nil, fmt.Errorf("search: %w", err)
	}
	return query, hits, nil
}
