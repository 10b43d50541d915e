// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SortKind selects one of the four display orders.
type SortKind int

const (
	// RecencyAll orders by start time, newest first, ignoring stage.
	RecencyAll SortKind = iota

	// IdentityAll orders by name, version, features, ignoring stage.
	IdentityAll

	// RecencyGrouped groups by stage, then newest first.
	RecencyGrouped

	// IdentityGrouped groups by stage, then by name, version, features.
	IdentityGrouped
)

var sortKindNames = map[SortKind]string{
	RecencyAll:      "recency",
	IdentityAll:     "identity",
	RecencyGrouped:  "recency-grouped",
	IdentityGrouped: "identity-grouped",
}

// ParseSortKind parses a CLI name such as "identity-grouped".
func ParseSortKind(s string) (SortKind, error) {
	for kind, name := range sortKindNames {
		if strings.EqualFold(s, name) {
			return kind, nil
		}
	}
	return RecencyAll, fmt.Errorf("unknown sort order %q", s)
}

// String returns the CLI name.
func (k SortKind) String() string {
	if name, ok := sortKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SortKind(%d)", int(k))
}

// Label returns the header shown above the list.
func (k SortKind) Label() string {
	switch k {
	case RecencyAll:
		return "[for all] Sort by time"
	case IdentityAll:
		return "[for all] Sort by PkgKey"
	case RecencyGrouped:
		return "[in groups] Sort by time"
	case IdentityGrouped:
		return "[in groups] Sort by PkgKey"
	default:
		return k.String()
	}
}

// Next returns the following order, wrapping after IdentityGrouped.
func (k SortKind) Next() SortKind {
	switch k {
	case RecencyAll:
		return IdentityAll
	case IdentityAll:
		return RecencyGrouped
	case RecencyGrouped:
		return IdentityGrouped
	default:
		return RecencyAll
	}
}

// Compare orders a before b (<0), after (>0), or neither (0).
func (k SortKind) Compare(a, b Entry) int {
	switch k {
	case IdentityAll:
		return compareIdentity(a, b)
	case RecencyGrouped:
		if c := compareStage(a, b); c != 0 {
			return c
		}
		return compareRecency(a, b)
	case IdentityGrouped:
		if c := compareStage(a, b); c != 0 {
			return c
		}
		return compareIdentity(a, b)
	default:
		return compareRecency(a, b)
	}
}

// Sort orders entries in place. The sort is stable, so entries that compare
// equal keep their relative order and sorting twice changes nothing.
func (k SortKind) Sort(entries []Entry) {
	slices.SortStableFunc(entries, k.Compare)
}

// compareRecency puts the most recent start time first.
func compareRecency(a, b Entry) int {
	return b.StartedAt().Compare(a.StartedAt())
}

// compareStage applies the group precedence Resident < Persisted < Pending.
func compareStage(a, b Entry) int {
	return cmp.Compare(a.Stage(), b.Stage())
}

// compareIdentity compares name, then the cached version, then features.
func compareIdentity(a, b Entry) int {
	ka, kb := a.Key(), b.Key()
	if c := strings.Compare(ka.Name(), kb.Name()); c != 0 {
		return c
	}
	if c := a.version.Compare(b.version); c != 0 {
		return c
	}
	return ka.Features().Compare(kb.Features())
}
