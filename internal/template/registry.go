package template

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the known templates. It is constructed once at startup and
// injected wherever templates are needed; there is no package-level instance.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register adds a template. Re-registering an id is an error.
func (r *Registry) Register(t *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		return fmt.Errorf("template: missing id")
	}
	if _, exists := r.templates[t.ID]; exists {
		return fmt.Errorf("template: duplicate id %q", t.ID)
	}
	r.templates[t.ID] = t
	return nil
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// RecordUse updates a template's usage metrics after a pipeline run.
func (r *Registry) RecordUse(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.templates[id]
	if !ok {
		return
	}
	t.UsageCount++
	if success {
		t.SuccessCount++
	}
}

// Suggest returns template ids ordered store-specific, chain-specific,
// category-generic, then global-generic, each bucket sorted by success rate
// descending.
func (r *Registry) Suggest(storeID, chainName, category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var storeBucket, chainBucket, categoryBucket, globalBucket []*Template
	for _, t := range r.templates {
		switch {
		case t.StoreID != "":
			if storeID != "" && t.StoreID == storeID {
				storeBucket = append(storeBucket, t)
			}
		case t.ChainName != "":
			if chainName != "" && t.ChainName == chainName {
				chainBucket = append(chainBucket, t)
			}
		case t.Category != "":
			if category != "" && t.Category == category {
				categoryBucket = append(categoryBucket, t)
			}
		default:
			globalBucket = append(globalBucket, t)
		}
	}

	var ids []string
	for _, bucket := range [][]*Template{storeBucket, chainBucket, categoryBucket, globalBucket} {
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].SuccessRate() != bucket[j].SuccessRate() {
				return bucket[i].SuccessRate() > bucket[j].SuccessRate()
			}
			return bucket[i].ID < bucket[j].ID
		})
		for _, t := range bucket {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
