// Package filesync tracks what each browser has loaded and computes the
// minimal delta needed to bring it up to date before a run.
package filesync

import "github.com/odvcencio/testfleet/pkg/fileset"

// ComputeDelta returns the files in desired that a browser whose loaded set is
// lastKnown still needs. A nil lastKnown means first contact and yields every
// desired file.
//
// Per role, a desired file is included when no file with its path is known,
// when both sides are versioned and desired is strictly newer, or when either
// side is unversioned and the two entries differ. Delta order follows desired.
func ComputeDelta(desired fileset.TestCase, lastKnown *fileset.TestCase) fileset.Delta {
	if lastKnown == nil {
		return desired.ToDelta()
	}
	return fileset.Delta{
		ID:           desired.ID,
		Dependencies: changedFiles(desired.Dependencies, lastKnown.Dependencies),
		Tests:        changedFiles(desired.Tests, lastKnown.Tests),
		Plugins:      changedFiles(desired.Plugins, lastKnown.Plugins),
	}
}

func changedFiles(desired, known []fileset.FileInfo) []fileset.FileInfo {
	var out []fileset.FileInfo
	for _, want := range desired {
		prev, ok := firstByPath(known, want.Path)
		if !ok || needsReload(want, prev) {
			out = append(out, want)
		}
	}
	return out
}

func needsReload(want, prev fileset.FileInfo) bool {
	if want.Versioned() && prev.Versioned() {
		return want.Timestamp > prev.Timestamp
	}
	return !want.Equal(prev)
}

func firstByPath(files []fileset.FileInfo, path string) (fileset.FileInfo, bool) {
	for _, f := range files {
		if f.Path == path {
			return f, true
		}
	}
	return fileset.FileInfo{}, false
}
