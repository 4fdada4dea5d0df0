package models

import "strings"

// Source is one retrieved knowledge document as returned by the search service.
type Source struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Source        string `json:"source"`
	Language      string `json:"language"`
	Snippet       string `json:"snippet,omitempty"`
	CitationIndex int    `json:"citation_index"`
}

// Key returns the identity key used by the source registry. The URL alone
// identifies a document, so re-retrievals that differ only in casing or title
// formatting collapse to the same key. When the URL is absent the key falls
// back to title, then source name, then language.
func (s Source) Key() string {
	for _, field := range []string{s.URL, s.Title, s.Source, s.Language} {
		if field != "" {
			return strings.ToLower(field)
		}
	}
	return ""
}

// RegisteredSource is a registry entry with its stable display index.
type RegisteredSource struct {
	SourceKey    string `json:"sourceKey"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Source       string `json:"source"`
	Language     string `json:"language"`
	DisplayIndex int    `json:"displayIndex"`
}
