// Package store persists the persistent block and permit rule sets.
package store

import (
	"context"
	"errors"
	"sort"
)

// ErrNotFound is returned by Load when no rules have ever been stored.
var ErrNotFound = errors.New("rules not found")

// Rules is the persisted form of the persistent rule sets.
type Rules struct {
	Blocked   []string `json:"blockedPrefixes"`
	Permitted []string `json:"permittedPrefixes"`
}

// Store loads and saves persistent rules.
type Store interface {
	// Load returns the stored rules, or ErrNotFound when storage is absent.
	Load(ctx context.Context) (*Rules, error)

	// Save replaces the stored rules.
	Save(ctx context.Context, rules *Rules) error

	// Describe names the backing storage for status output.
	Describe() string

	Close() error
}

// normalized returns a copy with non-nil, sorted, de-duplicated lists.
func (r *Rules) normalized() *Rules {
	out := &Rules{Blocked: []string{}, Permitted: []string{}}
	if r == nil {
		return out
	}
	out.Blocked = uniqueSorted(r.Blocked)
	out.Permitted = uniqueSorted(r.Permitted)
	return out
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
