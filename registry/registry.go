package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/expectations"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

// Registry knows where the layout tests live and how to turn a path on disk
// into a TestCase.
type Registry struct {
	config Config
	suite  SuiteConfig
	root   string

	extensions  map[string]struct{}
	skippedDirs map[string]struct{}
	mu          sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log             log.Logger
	SuiteConfigFile string
	// LayoutTestsDir overrides the directory named by the suite file
	LayoutTestsDir string
	Platform       string
	DefaultTimeout time.Duration
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	suite := DefaultSuiteConfig()
	if cfg.SuiteConfigFile != "" {
		loaded, err := loadSuiteConfig(cfg.SuiteConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load suite: %w", err)
		}
		suite = *loaded
	}

	root := cfg.LayoutTestsDir
	if root == "" {
		root = suite.LayoutTestsDir
		if root != "" && !filepath.IsAbs(root) && suite.dir != "" {
			root = filepath.Join(suite.dir, root)
		}
	}
	if root == "" {
		return nil, fmt.Errorf("layout tests directory is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve layout tests directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("layout tests directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("layout tests directory %s is not a directory", root)
	}
	if suite.dir == "" {
		suite.dir = root
	}

	r := &Registry{
		config:      cfg,
		suite:       suite,
		root:        root,
		extensions:  toSet(suite.Extensions),
		skippedDirs: toSet(suite.SkippedDirs),
	}

	cfg.Log.Debug("Registry loaded", "root", root, "extensions", len(suite.Extensions), "expectationFiles", len(suite.Expectations))

	return r, nil
}

// Root returns the absolute path of the layout tests directory
func (r *Registry) Root() string {
	return r.root
}

// Suite returns the corpus layout in effect
func (r *Registry) Suite() SuiteConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.suite
}

// ExpectationFiles returns the expectation files to load, with paths resolved.
// Default files that do not exist are left out; files named in the suite file
// are always returned so that a missing one is reported.
func (r *Registry) ExpectationFiles() []expectations.FileSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var files []expectations.FileSpec
	for _, spec := range r.suite.Expectations {
		p := spec.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(r.suite.dir, p)
		}
		if !r.suite.explicitExpectations {
			if _, err := os.Stat(p); err != nil {
				r.config.Log.Debug("Skipping missing default expectations file", "file", p)
				continue
			}
		}
		files = append(files, expectations.FileSpec{Path: p, Timeline: spec.Timeline})
	}
	return files
}

// GatherTests expands the requested paths into the sorted, de-duplicated list
// of test identities ('/' separated, relative to the root). An empty request
// means the whole corpus. Paths containing '*' are treated as glob patterns.
func (r *Registry) GatherTests(paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var toWalk []string
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(r.root, p)
		}
		if strings.Contains(p, "*") {
			matches, err := filepath.Glob(abs)
			if err != nil {
				return nil, fmt.Errorf("invalid test pattern %q: %w", p, err)
			}
			toWalk = append(toWalk, matches...)
			continue
		}
		toWalk = append(toWalk, abs)
	}

	found := make(map[string]struct{})
	for _, p := range toWalk {
		info, err := os.Stat(p)
		if err != nil {
			r.config.Log.Warn("Test path does not exist", "path", p)
			continue
		}
		if !info.IsDir() {
			if r.hasSupportedExtension(p) {
				rel, err := r.RelPath(p)
				if err != nil {
					return nil, err
				}
				found[rel] = struct{}{}
			}
			continue
		}
		err = filepath.WalkDir(p, func(walked string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if _, skip := r.skippedDirs[d.Name()]; skip {
					return filepath.SkipDir
				}
				return nil
			}
			if !r.hasSupportedExtension(walked) {
				return nil
			}
			rel, err := r.RelPath(walked)
			if err != nil {
				return err
			}
			found[rel] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}

	return types.SortedTests(found), nil
}

// RelPath turns an absolute path inside the root into a test identity
func (r *Registry) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("failed to relativise %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("test %s is outside the layout tests directory %s", abs, r.root)
	}
	return filepath.ToSlash(rel), nil
}

// NewTestCase builds the immutable TestCase for a test identity
func (r *Registry) NewTestCase(rel string, timeout time.Duration) (types.TestCase, error) {
	if timeout == 0 {
		timeout = r.config.DefaultTimeout
	}
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	hash, err := r.ExpectedChecksum(rel)
	if err != nil {
		return types.TestCase{}, err
	}
	return types.TestCase{
		Path:         abs,
		RelPath:      rel,
		URI:          r.URIFor(rel),
		Timeout:      timeout,
		ExpectedHash: hash,
		IsHTTP:       r.NeedsServer(rel),
	}, nil
}

// IsHTTPTest reports whether a test depends on the HTTP test server, that is
// whether any component of its path is "http".
func IsHTTPTest(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if part == "http" {
			return true
		}
	}
	return false
}

// NeedsServer reports whether a test is served by the HTTP test server. That
// holds for tests under the HTTP, HTTPS or WebSocket dirs, which URIFor maps
// onto server URLs, and for any test with an "http" path component.
func (r *Registry) NeedsServer(rel string) bool {
	s := r.suite
	inner := StripContainerDirs(rel, s.ContainerDirs)
	if hasDirPrefix(inner, s.HTTPSDir) || hasDirPrefix(inner, s.HTTPDir) || hasDirPrefix(inner, s.WebSocketDir) {
		return true
	}
	return IsHTTPTest(rel)
}

// URIFor maps a test identity onto the URI handed to the driver
func (r *Registry) URIFor(rel string) string {
	s := r.suite
	inner := StripContainerDirs(rel, s.ContainerDirs)
	switch {
	case hasDirPrefix(inner, s.HTTPSDir):
		return joinURL(s.HTTPSBaseURL, strings.TrimPrefix(inner, s.HTTPSDir+"/"))
	case hasDirPrefix(inner, s.HTTPDir):
		return joinURL(s.HTTPBaseURL, strings.TrimPrefix(inner, s.HTTPDir+"/"))
	case hasDirPrefix(inner, s.WebSocketDir):
		return joinURL(s.WebSocketBaseURL, strings.TrimPrefix(inner, s.WebSocketDir+"/"))
	}
	abs := filepath.ToSlash(filepath.Join(r.root, filepath.FromSlash(rel)))
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	return "file://" + abs
}

func (r *Registry) hasSupportedExtension(p string) bool {
	_, ok := r.extensions[filepath.Ext(p)]
	return ok
}

func hasDirPrefix(rel, dir string) bool {
	return dir != "" && strings.HasPrefix(rel, strings.TrimSuffix(dir, "/")+"/")
}

func joinURL(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + path.Clean(rel)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// StripContainerDirs walks past leading container directories such as
// "LayoutTests" so that "LayoutTests/fast/a.html" and "fast/a.html" share a
// layout below the container.
func StripContainerDirs(rel string, containers []string) string {
	for {
		idx := strings.Index(rel, "/")
		if idx < 0 {
			return rel
		}
		head := rel[:idx]
		matched := false
		for _, c := range containers {
			if head == c {
				matched = true
				break
			}
		}
		if !matched {
			return rel
		}
		rel = rel[idx+1:]
	}
}
