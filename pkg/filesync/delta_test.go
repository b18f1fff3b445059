package filesync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odvcencio/testfleet/pkg/fileset"
)

func file(path string, ts int64) fileset.FileInfo {
	return fileset.NewFileInfo(path, ts)
}

func TestComputeDelta_FirstContactSendsEverything(t *testing.T) {
	desired := fileset.TestCase{
		ID:           "suite",
		Dependencies: []fileset.FileInfo{file("lib.js", 1)},
		Tests:        []fileset.FileInfo{file("a_test.js", 2), file("b_test.js", 3)},
		Plugins:      []fileset.FileInfo{file("plugin.js", fileset.Unversioned)},
	}

	delta := ComputeDelta(desired, nil)

	assert.Equal(t, "suite", delta.ID)
	assert.Equal(t, []string{"lib.js", "a_test.js", "b_test.js", "plugin.js"}, delta.Paths())
}

func TestComputeDelta_UnchangedIsEmpty(t *testing.T) {
	tc := fileset.TestCase{
		ID:    "suite",
		Tests: []fileset.FileInfo{file("a_test.js", 2)},
	}

	delta := ComputeDelta(tc, &tc)

	assert.True(t, delta.IsEmpty())
	assert.Equal(t, "suite", delta.ID)
}

func TestComputeDelta_NewerAndNewFiles(t *testing.T) {
	known := fileset.TestCase{
		Tests: []fileset.FileInfo{file("a_test.js", 2), file("b_test.js", 3)},
	}
	desired := fileset.TestCase{
		Tests: []fileset.FileInfo{file("c_test.js", 1), file("b_test.js", 4), file("a_test.js", 2)},
	}

	delta := ComputeDelta(desired, &known)

	assert.Equal(t, []string{"c_test.js", "b_test.js"}, delta.Paths())
	assert.Equal(t, int64(4), delta.Tests[1].Timestamp)
}

func TestComputeDelta_OlderTimestampNotResent(t *testing.T) {
	known := fileset.TestCase{Tests: []fileset.FileInfo{file("a_test.js", 5)}}
	desired := fileset.TestCase{Tests: []fileset.FileInfo{file("a_test.js", 4)}}

	assert.True(t, ComputeDelta(desired, &known).IsEmpty())
}

func TestComputeDelta_UnversionedComparesContent(t *testing.T) {
	plugin := file("plugin.js", fileset.Unversioned)
	plugin.Data = "v1"
	known := fileset.TestCase{Plugins: []fileset.FileInfo{plugin}}

	same := fileset.TestCase{Plugins: []fileset.FileInfo{plugin}}
	assert.True(t, ComputeDelta(same, &known).IsEmpty())

	changed := plugin
	changed.Data = "v2"
	delta := ComputeDelta(fileset.TestCase{Plugins: []fileset.FileInfo{changed}}, &known)
	assert.Equal(t, []fileset.FileInfo{changed}, delta.Plugins)
}

func TestComputeDelta_RolesAreIndependent(t *testing.T) {
	known := fileset.TestCase{Tests: []fileset.FileInfo{file("shared.js", 1)}}
	desired := fileset.TestCase{Dependencies: []fileset.FileInfo{file("shared.js", 1)}}

	delta := ComputeDelta(desired, &known)

	assert.Equal(t, []fileset.FileInfo{file("shared.js", 1)}, delta.Dependencies)
	assert.Empty(t, delta.Tests)
}

func TestComputeDelta_AppliedReachesDesired(t *testing.T) {
	known := fileset.TestCase{
		ID:           "suite",
		Dependencies: []fileset.FileInfo{file("lib.js", 1)},
		Tests:        []fileset.FileInfo{file("a_test.js", 2)},
	}
	desired := fileset.TestCase{
		ID:           "suite",
		Dependencies: []fileset.FileInfo{file("lib.js", 2)},
		Tests:        []fileset.FileInfo{file("a_test.js", 2), file("b_test.js", 1)},
		Plugins:      []fileset.FileInfo{file("plugin.js", fileset.Unversioned)},
	}

	merged := known.ApplyDelta(ComputeDelta(desired, &known))

	assert.True(t, merged.Equal(desired))
	assert.True(t, ComputeDelta(desired, &merged).IsEmpty())
}
