package v1

import "time"

// Context is a named collection of loaded documents.
type Context struct {
	Name      string    `json:"name"`
	Sources   int       `json:"sources"`
	Blobs     int       `json:"blobs"`
	Links     int       `json:"links"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadReport summarizes one load.
type LoadReport struct {
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
	Blobs   int `json:"blobs"`
}

// SearchResult is one passage returned by a similarity search.
type SearchResult struct {
	Source string  `json:"source"`
	Start  int     `json:"start"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// Answer is a provider reply grounded on the passages in Results.
type Answer struct {
	Query   string         `json:"query"`
	Text    string         `json:"answer"`
	Results []SearchResult `json:"results"`
}
