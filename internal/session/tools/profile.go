package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinge-app/tinge/internal/domain/models"
)

// ProfileStore persists the learner profile on the client side.
type ProfileStore interface {
	Load(ctx context.Context) (models.UserProfile, error)
	Save(ctx context.Context, p models.UserProfile) error
}

// MemoryProfileStore is the in-memory ProfileStore used when no persistent
// backend is configured.
type MemoryProfileStore struct {
	mu sync.Mutex
	p  models.UserProfile
}

func NewMemoryProfileStore(initial models.UserProfile) *MemoryProfileStore {
	if initial == nil {
		initial = models.UserProfile{}
	}
	return &MemoryProfileStore{p: initial}
}

func (s *MemoryProfileStore) Load(ctx context.Context) (models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Clone(), nil
}

func (s *MemoryProfileStore) Save(ctx context.Context, p models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p.Clone()
	return nil
}

// MergeProfile deep-merges src into dst. Nested maps merge recursively,
// list fields take the set union preserving dst order, and scalars from
// src win.
func MergeProfile(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, sv := range src {
		dv, exists := dst[k]
		if !exists {
			dst[k] = sv
			continue
		}
		switch svt := sv.(type) {
		case map[string]any:
			if dvt, ok := dv.(map[string]any); ok {
				dst[k] = MergeProfile(dvt, svt)
				continue
			}
			dst[k] = sv
		case []any:
			if dvt, ok := dv.([]any); ok {
				dst[k] = unionList(dvt, svt)
				continue
			}
			dst[k] = sv
		default:
			dst[k] = sv
		}
	}
	return dst
}

func unionList(a, b []any) []any {
	seen := make(map[string]bool, len(a))
	out := make([]any, 0, len(a)+len(b))
	for _, v := range a {
		seen[listKey(v)] = true
		out = append(out, v)
	}
	for _, v := range b {
		k := listKey(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

func listKey(v any) string {
	return fmt.Sprintf("%T|%v", v, v)
}
