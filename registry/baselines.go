package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Baseline suffixes
const (
	SuffixText     = ".txt"
	SuffixChecksum = ".checksum"
	SuffixPNG      = ".png"
)

// PlatformDirs returns the platform directory names searched for baselines,
// most specific first. A suite file may list them explicitly; otherwise
// "chromium-win-xp" searches chromium-win-xp, chromium-win, chromium, win-xp,
// win and finally mac.
func (r *Registry) PlatformDirs(platform string) []string {
	if dirs, ok := r.suite.PlatformFallbacks[platform]; ok {
		return dirs
	}
	if platform == "" {
		return nil
	}

	segments := strings.Split(platform, "-")
	var dirs []string
	for n := len(segments); n > 0; n-- {
		dirs = append(dirs, strings.Join(segments[:n], "-"))
	}
	if strings.HasPrefix(platform, "chromium-") {
		for n := len(segments); n > 1; n-- {
			dirs = append(dirs, strings.Join(segments[1:n], "-"))
		}
	}
	hasMac := false
	for _, d := range dirs {
		if d == "mac" {
			hasMac = true
		}
	}
	if !hasMac {
		dirs = append(dirs, "mac")
	}
	return dirs
}

// ExpectedBaseline returns the absolute path of the baseline with the given
// suffix. The platform directories are searched first. When nothing exists the
// path next to the test is returned, whether or not it exists.
func (r *Registry) ExpectedBaseline(rel, suffix string) string {
	name := baselineName(StripContainerDirs(rel, r.suite.ContainerDirs), suffix)
	for _, dir := range r.PlatformDirs(r.config.Platform) {
		candidate := filepath.Join(r.root, DefaultPlatformResultDir, dir, filepath.FromSlash(name))
		if fileExists(candidate) {
			return candidate
		}
	}
	return filepath.Join(r.root, filepath.FromSlash(baselineName(rel, suffix)))
}

// NewBaselinePath is where --new-baseline writes a baseline for the current platform
func (r *Registry) NewBaselinePath(rel, suffix string) string {
	name := baselineName(StripContainerDirs(rel, r.suite.ContainerDirs), suffix)
	return filepath.Join(r.root, DefaultPlatformResultDir, r.config.Platform, filepath.FromSlash(name))
}

// ExpectedChecksum reads the checksum baseline of a test, "" if there is none
func (r *Registry) ExpectedChecksum(rel string) (string, error) {
	data, err := os.ReadFile(r.ExpectedBaseline(rel, SuffixChecksum))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read checksum baseline for %s: %w", rel, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// baselineName turns fast/js/a.html into fast/js/a-expected<suffix>
func baselineName(rel, suffix string) string {
	ext := filepath.Ext(rel)
	return strings.TrimSuffix(rel, ext) + "-expected" + suffix
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
