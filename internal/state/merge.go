package state

import (
	"fmt"
	"strings"

	"github.com/compose-farm/compose-farm/pkg/types"
)

// MergePolicy decides how discovered placements are folded into the current state
type MergePolicy string

const (
	// MergeReplace makes the discovered map the whole new state
	MergeReplace MergePolicy = "replace"
	// MergeScoped replaces only the units in scope and keeps everything else
	MergeScoped MergePolicy = "scoped"
)

// ParseMergePolicy accepts "replace" or "scoped"
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case MergeReplace:
		return MergeReplace, nil
	case MergeScoped:
		return MergeScoped, nil
	}
	return "", fmt.Errorf("unknown merge policy %q (want %s or %s)", s, MergeReplace, MergeScoped)
}

// DefaultMergePolicy is Replace for a full refresh and Scoped when units were named
func DefaultMergePolicy(unitsNamed bool) MergePolicy {
	if unitsNamed {
		return MergeScoped
	}
	return MergeReplace
}

// MergePlacement folds discovered into current without touching either input.
// With MergeScoped, every unit in scope takes its discovered placement or is
// dropped when discovery did not find it.
func MergePlacement(current, discovered Placements, scope []string, policy MergePolicy) Placements {
	if policy != MergeScoped {
		return discovered.Clone()
	}

	merged := current.Clone()
	for _, unit := range scope {
		if placement, ok := discovered[unit]; ok && !placement.IsZero() {
			merged[unit] = placement
		} else {
			delete(merged, unit)
		}
	}
	return merged
}

// Change is one unit whose placement differs between two states
type Change struct {
	Unit   string
	Before types.Placement
	After  types.Placement
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Unit, c.Before, c.After)
}

// Diff lists the differences between two states, each list sorted by unit
type Diff struct {
	Added   []Change
	Removed []Change
	Changed []Change
}

// IsEmpty reports whether the states are equal
func (d Diff) IsEmpty() bool {
	return d.Count() == 0
}

// Count returns the number of differing units
func (d Diff) Count() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Compare computes the diff from before to after
func Compare(before, after Placements) Diff {
	var d Diff
	for _, unit := range after.Units() {
		prev, ok := before[unit]
		switch {
		case !ok:
			d.Added = append(d.Added, Change{Unit: unit, After: after[unit]})
		case !prev.Equal(after[unit]):
			d.Changed = append(d.Changed, Change{Unit: unit, Before: prev, After: after[unit]})
		}
	}
	for _, unit := range before.Units() {
		if _, ok := after[unit]; !ok {
			d.Removed = append(d.Removed, Change{Unit: unit, Before: before[unit]})
		}
	}
	return d
}
