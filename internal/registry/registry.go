package registry

import (
	"sort"
	"sync"
)

// Registry owns the constants catalogue and the unsaved-ID claims.
type Registry struct {
	mu        sync.RWMutex
	constants Constants
	// claims maps id_code -> record id -> claiming instance.
	claims map[string]map[string]string
}

// New builds a registry around the given constants catalogue.
func New(constants Constants) *Registry {
	if constants.Naming == (Naming{}) {
		constants.Naming = DefaultNaming()
	}
	return &Registry{
		constants: constants,
		claims:    make(map[string]map[string]string),
	}
}

// Constants returns the catalogue.
func (r *Registry) Constants() Constants {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.constants
}

// FormatAttrs renders the catalogue, optionally filtered to subset.
func (r *Registry) FormatAttrs(subset string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.constants.FormatAttrs(subset)
}

// AddUnsavedIDs claims ids under idCode for the given client instance.
// Re-claiming an id moves it to the latest claimant.
func (r *Registry) AddUnsavedIDs(idCode string, ids []string, instance string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.claims[idCode]
	if !ok {
		byID = make(map[string]string)
		r.claims[idCode] = byID
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		byID[id] = instance
	}
	return len(byID)
}

// RemoveUnsavedIDs releases claims. With explicit ids those claims are
// dropped (within idCode when given, across all codes otherwise). With
// no ids and an instance, every claim held by that instance is dropped.
// With only an idCode, the whole code is cleared.
func (r *Registry) RemoveUnsavedIDs(ids []string, idCode, instance string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	switch {
	case len(ids) > 0:
		for code, byID := range r.claims {
			if idCode != "" && code != idCode {
				continue
			}
			for _, id := range ids {
				if _, ok := byID[id]; ok {
					delete(byID, id)
					removed++
				}
			}
		}
	case instance != "":
		for code, byID := range r.claims {
			if idCode != "" && code != idCode {
				continue
			}
			for id, owner := range byID {
				if owner == instance {
					delete(byID, id)
					removed++
				}
			}
		}
	case idCode != "":
		removed = len(r.claims[idCode])
		delete(r.claims, idCode)
	}
	return removed
}

// GetUnsavedIDs lists claimed ids under idCode, sorted. With an
// instance, ids claimed by that same instance are excluded: the caller
// wants to know which identifiers other running clients hold.
func (r *Registry) GetUnsavedIDs(idCode, instance string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID := r.claims[idCode]
	out := make([]string, 0, len(byID))
	for id, owner := range byID {
		if instance != "" && owner == instance {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
