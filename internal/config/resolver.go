package config

import (
	"cmp"
	"slices"
	"strings"
)

// loadTiers orders module namespaces so that services are registered before
// the modules that look them up: the memory store first, then the vector
// index, embedders and providers, and the surfaces last.
var loadTiers = []string{"memory.", "index.", EmbedderPrefix, "provider."}

func loadTier(id string) int {
	for i, prefix := range loadTiers {
		if strings.HasPrefix(id, prefix) {
			return i
		}
	}
	return len(loadTiers)
}

// Resolve returns the configured module IDs in load order. IDs in the same
// tier are sorted so the order is deterministic.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(loadTier(a), loadTier(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return ids
}
