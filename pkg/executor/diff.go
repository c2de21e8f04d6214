package executor

import (
	"maps"
	"sort"
	"strings"
)

// Item is one externally visible record, e.g. a product listing keyed by SKU
// or a business category keyed by slug. Attrs holds only the fields the
// provider cares about; internal metadata must not be included, or every run
// would look like an update.
type Item struct {
	Key   string
	Attrs map[string]string
}

// Diff is the set of operations needed to make external state match local
// state. Slices are sorted by normalized key so a diff is deterministic for
// a given pair of snapshots.
type Diff struct {
	ToCreate []Item
	ToUpdate []Item
	ToDelete []string // normalized keys present externally but absent locally
}

// Ops returns the total number of operations in the diff.
func (d Diff) Ops() int {
	return len(d.ToCreate) + len(d.ToUpdate) + len(d.ToDelete)
}

// Empty reports whether the external system already matches local state.
func (d Diff) Empty() bool {
	return d.Ops() == 0
}

// normalizeKey folds case and trims whitespace. Matching is exact on the
// normalized key; no fuzzy matching.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ComputeDiff classifies every local item against the remote snapshot:
// present locally but not remotely -> create; present in both with differing
// attrs -> update; present remotely but not locally -> delete.
//
// When several items share a normalized key, the first occurrence wins.
func ComputeDiff(local, remote []Item) Diff {
	remoteByKey := make(map[string]Item, len(remote))
	for _, item := range remote {
		k := normalizeKey(item.Key)
		if _, seen := remoteByKey[k]; !seen {
			remoteByKey[k] = item
		}
	}

	var d Diff
	localKeys := make(map[string]bool, len(local))
	for _, item := range local {
		k := normalizeKey(item.Key)
		if localKeys[k] {
			continue
		}
		localKeys[k] = true

		existing, ok := remoteByKey[k]
		switch {
		case !ok:
			d.ToCreate = append(d.ToCreate, item)
		case !maps.Equal(item.Attrs, existing.Attrs):
			d.ToUpdate = append(d.ToUpdate, item)
		}
	}

	for k := range remoteByKey {
		if !localKeys[k] {
			d.ToDelete = append(d.ToDelete, k)
		}
	}

	sort.Slice(d.ToCreate, func(i, j int) bool {
		return normalizeKey(d.ToCreate[i].Key) < normalizeKey(d.ToCreate[j].Key)
	})
	sort.Slice(d.ToUpdate, func(i, j int) bool {
		return normalizeKey(d.ToUpdate[i].Key) < normalizeKey(d.ToUpdate[j].Key)
	})
	sort.Strings(d.ToDelete)

	return d
}
