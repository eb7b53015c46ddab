package v1

import "go.uber.org/zap"

// Option configures a Client.
type Option func(*clientConfig)

// Tokenizer splits text into tokens for chunking. Without one the client
// uses the tiktoken encoding named in the workspace config.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type clientConfig struct {
	scope     string
	logger    *zap.Logger
	tokenizer Tokenizer
}

// WithScope forces a workspace: "global" or a path to a .wizz directory.
func WithScope(scope string) Option {
	return func(c *clientConfig) {
		c.scope = scope
	}
}

// WithLogger sets the logger handed to the workspace.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTokenizer replaces the tiktoken tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(c *clientConfig) {
		c.tokenizer = t
	}
}
