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
	"slices"
	"testing"

	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

var allKinds = []SortKind{RecencyAll, IdentityAll, RecencyGrouped, IdentityGrouped}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key().Name() + "@" + e.Key().VersionString()
	}
	return out
}

// exampleEntries is b@1.0 Resident(t=10), a@2.0 Persisted(t=20),
// a@1.0 Pending(t=30).
func exampleEntries(t *testing.T) []Entry {
	return []Entry{
		residentAt(t, "b", "1.0.0", 10),
		persistedAt("a", "2.0.0", 20),
		pendingAt("a", "1.0.0", 30),
	}
}

func TestSortKind_Example(t *testing.T) {
	tests := []struct {
		kind SortKind
		want []string
	}{
		{RecencyAll, []string{"a@1.0.0", "a@2.0.0", "b@1.0.0"}},
		{IdentityAll, []string{"a@1.0.0", "a@2.0.0", "b@1.0.0"}},
		{RecencyGrouped, []string{"b@1.0.0", "a@2.0.0", "a@1.0.0"}},
		{IdentityGrouped, []string{"b@1.0.0", "a@2.0.0", "a@1.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			entries := exampleEntries(t)
			tt.kind.Sort(entries)
			if got := names(entries); !slices.Equal(got, tt.want) {
				t.Errorf("%v order = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func mixedEntries(t *testing.T) []Entry {
	return []Entry{
		pendingAt("z", "0.1.0", 1),
		residentAt(t, "m", "1.0.0", 50),
		persistedAt("a", "1.0.0", 99),
		pendingAt("a", "3.0.0", 100),
		residentAt(t, "a", "0.9.0", 2),
		persistedAt("k", "1.2.0", 40),
		NewPersisted(recordFor(pkgkey.MustNew("k", "1.2.0", pkgkey.AllFeatures()), at(41))),
		pendingAt("b", "1.0.0", 70),
	}
}

func TestSortKind_GroupPrecedenceIsAbsolute(t *testing.T) {
	for _, kind := range []SortKind{RecencyGrouped, IdentityGrouped} {
		entries := mixedEntries(t)
		kind.Sort(entries)
		for i := 1; i < len(entries); i++ {
			if entries[i-1].Stage() > entries[i].Stage() {
				t.Errorf("%v: %v (%v) sorted before %v (%v)", kind,
					entries[i-1].Key(), entries[i-1].Stage(), entries[i].Key(), entries[i].Stage())
			}
		}
	}
}

func TestSortKind_RecencyDescending(t *testing.T) {
	for _, kind := range []SortKind{RecencyAll, RecencyGrouped} {
		entries := mixedEntries(t)
		kind.Sort(entries)
		for i := 1; i < len(entries); i++ {
			if kind == RecencyGrouped && entries[i-1].Stage() != entries[i].Stage() {
				continue
			}
			if entries[i-1].StartedAt().Before(entries[i].StartedAt()) {
				t.Errorf("%v: older entry %v before newer %v", kind, entries[i-1].Key(), entries[i].Key())
			}
		}
	}
}

func TestSortKind_IdentityTieBreak(t *testing.T) {
	entries := mixedEntries(t)
	IdentityAll.Sort(entries)
	want := []string{"a@0.9.0", "a@1.0.0", "a@3.0.0", "b@1.0.0", "k@1.2.0", "k@1.2.0", "m@1.0.0", "z@0.1.0"}
	if got := names(entries); !slices.Equal(got, want) {
		t.Errorf("IdentityAll = %v, want %v", got, want)
	}
	// default features sort before --all-features
	if entries[4].Key().Features().Kind != pkgkey.FeaturesDefault {
		t.Error("features tie-break should put default before all")
	}
}

func TestSortKind_ComparatorProperties(t *testing.T) {
	entries := mixedEntries(t)
	for _, kind := range allKinds {
		for _, a := range entries {
			if kind.Compare(a, a) != 0 {
				t.Errorf("%v: Compare(a, a) != 0", kind)
			}
			for _, b := range entries {
				ab, ba := kind.Compare(a, b), kind.Compare(b, a)
				if (ab < 0) != (ba > 0) || (ab == 0) != (ba == 0) {
					t.Errorf("%v: antisymmetry broken for %v, %v", kind, a.Key(), b.Key())
				}
				for _, c := range entries {
					if ab < 0 && kind.Compare(b, c) < 0 && kind.Compare(a, c) >= 0 {
						t.Errorf("%v: transitivity broken for %v, %v, %v", kind, a.Key(), b.Key(), c.Key())
					}
				}
			}
		}
	}
}

func TestSortKind_Idempotent(t *testing.T) {
	for _, kind := range allKinds {
		once := mixedEntries(t)
		kind.Sort(once)
		twice := slices.Clone(once)
		kind.Sort(twice)
		if !slices.Equal(names(once), names(twice)) {
			t.Errorf("%v: sorting twice changed the order", kind)
		}
	}
}

func TestSortKind_NextCycles(t *testing.T) {
	want := []SortKind{IdentityAll, RecencyGrouped, IdentityGrouped, RecencyAll}
	k := RecencyAll
	for i, w := range want {
		k = k.Next()
		if k != w {
			t.Errorf("step %d: Next() = %v, want %v", i, k, w)
		}
	}
	if k != RecencyAll {
		t.Error("four Next() calls should return to the start")
	}
}

func TestSortKind_LabelsAndParse(t *testing.T) {
	seen := map[string]bool{}
	for _, kind := range allKinds {
		label := kind.Label()
		if label == "" || seen[label] {
			t.Errorf("%v: label %q empty or duplicated", kind, label)
		}
		seen[label] = true

		parsed, err := ParseSortKind(kind.String())
		if err != nil || parsed != kind {
			t.Errorf("ParseSortKind(%q) = %v, %v", kind.String(), parsed, err)
		}
	}
	if _, err := ParseSortKind("bogus"); err == nil {
		t.Error("expected error for unknown sort order")
	}
}
