package domain

import "sort"

// CatalogEntry is one task_type's entry in the auto-generated node catalog
// served at GET /api/v1/nodes/catalog.
type CatalogEntry struct {
	TaskType string        `json:"task_type"`
	DomainID string        `json:"domain_id"`
	Display  DisplayConfig `json:"display"`
}

// Catalog builds the node catalog from the registry's current domain set.
// Domains register once at startup, so this is safe to call repeatedly
// (e.g. on every GET) without caching.
func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CatalogEntry, 0, len(r.ownerOf))
	for taskType, domainID := range r.ownerOf {
		out = append(out, CatalogEntry{
			TaskType: taskType,
			DomainID: domainID,
			Display:  r.displays[taskType],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out
}
