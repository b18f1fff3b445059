// Package fileset models the files a browser loads before a test run and the
// additive deltas used to keep a browser's loaded set current.
package fileset

// Unversioned marks a file that carries no reliable modification timestamp.
// Plugin and dependency files served from memory usually use it.
const Unversioned int64 = -1

// FileInfo references a single artifact a browser loads.
type FileInfo struct {
	Path        string `json:"filePath"`
	Timestamp   int64  `json:"timestamp"`
	Length      int64  `json:"length"`
	ServeOnly   bool   `json:"serveOnly,omitempty"`
	IsPatch     bool   `json:"isPatch,omitempty"`
	Data        string `json:"data,omitempty"`
	DisplayPath string `json:"displayPath,omitempty"`
}

// NewFileInfo returns a FileInfo for path at the given timestamp with unknown length.
func NewFileInfo(path string, timestamp int64) FileInfo {
	return FileInfo{
		Path:        path,
		Timestamp:   timestamp,
		Length:      -1,
		DisplayPath: path,
	}
}

// SameFile reports whether f and other refer to the same logical file.
func (f FileInfo) SameFile(other FileInfo) bool {
	return f.Path == other.Path
}

// Equal reports whether every field of f matches other.
func (f FileInfo) Equal(other FileInfo) bool {
	return f == other
}

// Versioned reports whether the timestamp can be used to order revisions.
func (f FileInfo) Versioned() bool {
	return f.Timestamp != Unversioned
}

// Role identifies the load phase a file belongs to.
type Role string

const (
	RoleDependencies Role = "dependencies"
	RoleTests        Role = "tests"
	RolePlugins      Role = "plugins"
)

// Roles returns every role in load order.
func Roles() []Role {
	return []Role{RoleDependencies, RoleTests, RolePlugins}
}

// TestCase is the set of files a browser has (or should have) loaded,
// grouped by role. Order within a role is the load order.
type TestCase struct {
	ID           string     `json:"id,omitempty"`
	Dependencies []FileInfo `json:"dependencies"`
	Tests        []FileInfo `json:"tests"`
	Plugins      []FileInfo `json:"plugins"`
}

// Files returns the sequence for role.
func (tc TestCase) Files(role Role) []FileInfo {
	switch role {
	case RoleDependencies:
		return tc.Dependencies
	case RoleTests:
		return tc.Tests
	case RolePlugins:
		return tc.Plugins
	default:
		return nil
	}
}

// AllFiles returns dependencies, tests and plugins concatenated in load order.
func (tc TestCase) AllFiles() []FileInfo {
	out := make([]FileInfo, 0, len(tc.Dependencies)+len(tc.Tests)+len(tc.Plugins))
	out = append(out, tc.Dependencies...)
	out = append(out, tc.Tests...)
	out = append(out, tc.Plugins...)
	return out
}

// Equal reports whether both test cases have the same id and identical files
// in identical order for every role.
func (tc TestCase) Equal(other TestCase) bool {
	if tc.ID != other.ID {
		return false
	}
	for _, role := range Roles() {
		if !equalFiles(tc.Files(role), other.Files(role)) {
			return false
		}
	}
	return true
}

// Delta lists files that are new or changed relative to a prior TestCase.
// A Delta never removes files.
type Delta struct {
	ID           string     `json:"id,omitempty"`
	Dependencies []FileInfo `json:"dependencies"`
	Tests        []FileInfo `json:"tests"`
	Plugins      []FileInfo `json:"plugins"`
}

// Files returns the delta entries for role.
func (d Delta) Files(role Role) []FileInfo {
	switch role {
	case RoleDependencies:
		return d.Dependencies
	case RoleTests:
		return d.Tests
	case RolePlugins:
		return d.Plugins
	default:
		return nil
	}
}

// Len returns the number of files across all roles.
func (d Delta) Len() int {
	return len(d.Dependencies) + len(d.Tests) + len(d.Plugins)
}

// IsEmpty reports whether the delta carries no files.
func (d Delta) IsEmpty() bool {
	return d.Len() == 0
}

// Paths returns the logical paths carried by the delta in load order.
func (d Delta) Paths() []string {
	paths := make([]string, 0, d.Len())
	for _, role := range Roles() {
		for _, f := range d.Files(role) {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

func equalFiles(a, b []FileInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
