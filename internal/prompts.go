package internal

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/default.yaml
var defaultPrompts []byte

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `yaml:"role" json:"role"`
	Content string `yaml:"content" json:"content"`
}

// PromptChain is an ordered list of messages that may contain
// {placeholder} fields.
type PromptChain []ChatMessage

// Format returns a copy with every {key} replaced by vars[key].
func (c PromptChain) Format(vars map[string]string) PromptChain {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make(PromptChain, len(c))
	for i, m := range c {
		out[i] = ChatMessage{Role: m.Role, Content: r.Replace(m.Content)}
	}
	return out
}

type Prompts struct {
	System          string      `yaml:"system"`
	ConstructQuery  PromptChain `yaml:"construct_query"`
	IntegrateSearch PromptChain `yaml:"integrate_search"`
}

func DefaultPrompts() *Prompts {
	p, err := parsePrompts(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts: %v", err))
	}
	return p
}

// LoadPrompts reads a prompt file. Sections missing from the file keep
// their defaults. An empty path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}

	p := DefaultPrompts()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	return p, nil
}

func parsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// renderTranscript flattens messages into a single prompt for completion
// style providers.
func renderTranscript(msgs []ChatMessage) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", m.Role, strings.TrimSpace(m.Content))
	}
	return sb.String()
}
