package fileset

import "slices"

// ApplyDelta returns a new TestCase with d merged into tc.
//
// Each role is merged independently: a delta entry replaces, in place, the
// first existing entry with the same path, and is appended when no entry
// matches. A path repeated within one delta role collapses to a single entry
// holding the last occurrence, so [a.js@1, a.js@2] applies as [a.js@2].
// Roles with no delta entries pass through unchanged. Files are never
// removed. The delta id is not compared with tc.ID; callers that care must
// check it before merging.
func (tc TestCase) ApplyDelta(d Delta) TestCase {
	return TestCase{
		ID:           tc.ID,
		Dependencies: mergeRole(tc.Dependencies, d.Dependencies),
		Tests:        mergeRole(tc.Tests, d.Tests),
		Plugins:      mergeRole(tc.Plugins, d.Plugins),
	}
}

// ToDelta returns a delta carrying every file of tc, as sent on first contact.
func (tc TestCase) ToDelta() Delta {
	return Delta{
		ID:           tc.ID,
		Dependencies: slices.Clone(tc.Dependencies),
		Tests:        slices.Clone(tc.Tests),
		Plugins:      slices.Clone(tc.Plugins),
	}
}

func mergeRole(existing, updates []FileInfo) []FileInfo {
	merged := slices.Clone(existing)
	for _, update := range updates {
		if i := indexOfPath(merged, update.Path); i >= 0 {
			merged[i] = update
			continue
		}
		merged = append(merged, update)
	}
	return merged
}

func indexOfPath(files []FileInfo, path string) int {
	return slices.IndexFunc(files, func(f FileInfo) bool {
		return f.Path == path
	})
}
