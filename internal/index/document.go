// Package index implements the index worker: an outbox consumer that
// materializes per-topic search documents, plus the reindex job runner and
// expiration sweeper that run alongside it.
package index

import (
	"strings"

	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

// DefaultSettings is the fixed searchable/filterable/sortable attribute set
// every topic index is created with on first touch.
var DefaultSettings = &ports.IndexSettings{
	SearchableAttributes: []string{"title", "summary", "content"},
	FilterableAttributes: []string{"kind", "author", "tags"},
	SortableAttributes:   []string{"created_at"},
}

const (
	titleMaxLen   = 80
	summaryMaxLen = 200
)

// BuildDocument derives the search document for an event in one topic.
func BuildDocument(rec store.EventRecord, topicID string) ports.SearchDocument {
	return ports.SearchDocument{
		EventID:   rec.EventID,
		TopicID:   topicID,
		Kind:      rec.Kind,
		Author:    rec.Pubkey,
		CreatedAt: rec.CreatedAt,
		Title:     truncate(deriveTitle(rec), titleMaxLen),
		Summary:   truncate(strings.TrimSpace(rec.Content), summaryMaxLen),
		Content:   rec.Content,
		Tags:      dedupeTopicTagValues(rec),
	}
}

func deriveTitle(rec store.EventRecord) string {
	if v, ok := firstTagValue(rec, "title"); ok && v != "" {
		return v
	}
	if v, ok := firstTagValue(rec, "subject"); ok && v != "" {
		return v
	}
	for _, line := range strings.Split(rec.Content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstTagValue(rec store.EventRecord, name string) (string, bool) {
	for _, t := range rec.Tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

func dedupeTopicTagValues(rec store.EventRecord) []string {
	seen := make(map[string]struct{}, len(rec.Tags))
	var out []string
	for _, t := range rec.Tags {
		if t.Name() != "t" {
			continue
		}
		v := t.Value()
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
