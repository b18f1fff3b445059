// Package suite builds a TestCase from a manifest on disk and watches the
// matched files for changes.
package suite

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
	"github.com/odvcencio/testfleet/pkg/fileset"
)

// Manifest lists the files of a test suite as glob patterns relative to
// BasePath. Load and Serve become dependencies (Serve files are served but
// not loaded), Test files are the tests and Plugin files load last.
type Manifest struct {
	ID       string   `yaml:"id"`
	BasePath string   `yaml:"basepath"`
	Load     []string `yaml:"load"`
	Serve    []string `yaml:"serve"`
	Test     []string `yaml:"test"`
	Plugin   []string `yaml:"plugin"`
	Exclude  []string `yaml:"exclude"`
}

// LoadManifest reads a YAML manifest. A relative BasePath is resolved against
// the manifest's directory; an empty ID defaults to the file name.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fleeterrors.Wrap(err, fleeterrors.ErrCodeConfigLoad, "read manifest").WithContext("path", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fleeterrors.Wrap(err, fleeterrors.ErrCodeConfigParse, "parse manifest").WithContext("path", path)
	}
	dir := filepath.Dir(path)
	switch {
	case m.BasePath == "":
		m.BasePath = dir
	case !filepath.IsAbs(m.BasePath):
		m.BasePath = filepath.Join(dir, m.BasePath)
	}
	if m.ID == "" {
		m.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &m, nil
}

// Patterns returns every include pattern.
func (m *Manifest) Patterns() []string {
	out := make([]string, 0, len(m.Load)+len(m.Serve)+len(m.Test)+len(m.Plugin))
	out = append(out, m.Load...)
	out = append(out, m.Serve...)
	out = append(out, m.Test...)
	return append(out, m.Plugin...)
}

// Build resolves the manifest against the filesystem. Timestamps are file
// modification times in milliseconds. A path matched by an earlier section is
// not repeated by a later one.
func (m *Manifest) Build() (fileset.TestCase, error) {
	tc := fileset.TestCase{ID: m.ID}
	seen := make(map[string]bool)

	sections := []struct {
		patterns  []string
		serveOnly bool
		dst       *[]fileset.FileInfo
	}{
		{m.Load, false, &tc.Dependencies},
		{m.Serve, true, &tc.Dependencies},
		{m.Test, false, &tc.Tests},
		{m.Plugin, false, &tc.Plugins},
	}
	for _, section := range sections {
		for _, pattern := range section.patterns {
			files, err := m.expand(pattern)
			if err != nil {
				return fileset.TestCase{}, err
			}
			for _, f := range files {
				if seen[f.Path] {
					continue
				}
				seen[f.Path] = true
				f.ServeOnly = section.serveOnly
				*section.dst = append(*section.dst, f)
			}
		}
	}
	return tc, nil
}

func (m *Manifest) expand(pattern string) ([]fileset.FileInfo, error) {
	pattern = filepath.FromSlash(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil, nil
	}
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(m.BasePath, pattern)
	}
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fleeterrors.Wrap(err, fleeterrors.ErrCodeInvalidInput, "bad manifest pattern").
			WithContext("pattern", pattern)
	}
	slices.Sort(matches)

	out := make([]fileset.FileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, fleeterrors.Wrap(err, fleeterrors.ErrCodeStorageRead, "stat suite file").
				WithContext("path", match)
		}
		if info.IsDir() {
			continue
		}
		rel := m.relative(match)
		if m.excluded(rel) {
			continue
		}
		out = append(out, fileInfo(rel, info))
	}
	return out, nil
}

func (m *Manifest) relative(path string) string {
	rel, err := filepath.Rel(m.BasePath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (m *Manifest) excluded(rel string) bool {
	for _, pattern := range m.Exclude {
		if matchesPattern(pattern, rel) {
			return true
		}
	}
	return false
}

func fileInfo(rel string, info fs.FileInfo) fileset.FileInfo {
	return fileset.FileInfo{
		Path:        rel,
		Timestamp:   info.ModTime().UnixMilli(),
		Length:      info.Size(),
		DisplayPath: rel,
	}
}
