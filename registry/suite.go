package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/layout-tester/expectations"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// Default corpus layout
var (
	DefaultExtensions    = []string{".html", ".shtml", ".xml", ".xhtml", ".pl", ".php", ".svg"}
	DefaultSkippedDirs   = []string{".svn", "_svn", "resources"}
	DefaultContainerDirs = []string{"LayoutTests", "layout_tests"}
)

const (
	DefaultHTTPDir           = "http/tests"
	DefaultHTTPSDir          = "http/tests/ssl"
	DefaultWebSocketDir      = "websocket/tests"
	DefaultHTTPBaseURL       = "http://127.0.0.1:8000"
	DefaultHTTPSBaseURL      = "https://127.0.0.1:8443"
	DefaultWebSocketBaseURL  = "http://127.0.0.1:8880"
	DefaultFixableFile       = "tests_fixable.txt"
	DefaultIgnoredFile       = "tests_ignored.txt"
	DefaultPlatformResultDir = "platform"
)

// SuiteConfig describes the layout of a test corpus. Every field is optional
// in the YAML file and falls back to the defaults above.
type SuiteConfig struct {
	LayoutTestsDir    string                  `yaml:"layout_tests_dir"`
	ContainerDirs     []string                `yaml:"container_dirs"`
	Extensions        []string                `yaml:"extensions"`
	SkippedDirs       []string                `yaml:"skipped_dirs"`
	HTTPDir           string                  `yaml:"http_dir"`
	HTTPSDir          string                  `yaml:"https_dir"`
	WebSocketDir      string                  `yaml:"websocket_dir"`
	HTTPBaseURL       string                  `yaml:"http_base_url"`
	HTTPSBaseURL      string                  `yaml:"https_base_url"`
	WebSocketBaseURL  string                  `yaml:"websocket_base_url"`
	PlatformFallbacks map[string][]string     `yaml:"platform_fallbacks"`
	Expectations      []expectations.FileSpec `yaml:"expectations"`

	// explicitExpectations is set when the file names its own expectation files
	explicitExpectations bool
	// dir is the directory relative paths in the file are resolved against
	dir string
}

// DefaultSuiteConfig returns the layout used when no suite file is given
func DefaultSuiteConfig() SuiteConfig {
	return SuiteConfig{
		ContainerDirs:    append([]string(nil), DefaultContainerDirs...),
		Extensions:       append([]string(nil), DefaultExtensions...),
		SkippedDirs:      append([]string(nil), DefaultSkippedDirs...),
		HTTPDir:          DefaultHTTPDir,
		HTTPSDir:         DefaultHTTPSDir,
		WebSocketDir:     DefaultWebSocketDir,
		HTTPBaseURL:      DefaultHTTPBaseURL,
		HTTPSBaseURL:     DefaultHTTPSBaseURL,
		WebSocketBaseURL: DefaultWebSocketBaseURL,
		Expectations: []expectations.FileSpec{
			{Path: DefaultFixableFile, Timeline: types.TimelineFixable},
			{Path: DefaultIgnoredFile, Timeline: types.TimelineIgnored},
		},
	}
}

// loadSuiteConfig reads a suite file over the defaults
func loadSuiteConfig(path string) (*SuiteConfig, error) {
	log.Debug("Reading suite config file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite config file: %w", err)
	}

	var overrides SuiteConfig
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing suite config file: %w", err)
	}

	cfg := DefaultSuiteConfig()
	cfg.merge(overrides)
	cfg.dir = filepath.Dir(path)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid suite config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *SuiteConfig) merge(o SuiteConfig) {
	if o.LayoutTestsDir != "" {
		c.LayoutTestsDir = o.LayoutTestsDir
	}
	if len(o.ContainerDirs) > 0 {
		c.ContainerDirs = o.ContainerDirs
	}
	if len(o.Extensions) > 0 {
		c.Extensions = o.Extensions
	}
	if len(o.SkippedDirs) > 0 {
		c.SkippedDirs = o.SkippedDirs
	}
	if o.HTTPDir != "" {
		c.HTTPDir = o.HTTPDir
	}
	if o.HTTPSDir != "" {
		c.HTTPSDir = o.HTTPSDir
	}
	if o.WebSocketDir != "" {
		c.WebSocketDir = o.WebSocketDir
	}
	if o.HTTPBaseURL != "" {
		c.HTTPBaseURL = o.HTTPBaseURL
	}
	if o.HTTPSBaseURL != "" {
		c.HTTPSBaseURL = o.HTTPSBaseURL
	}
	if o.WebSocketBaseURL != "" {
		c.WebSocketBaseURL = o.WebSocketBaseURL
	}
	if len(o.PlatformFallbacks) > 0 {
		c.PlatformFallbacks = o.PlatformFallbacks
	}
	if len(o.Expectations) > 0 {
		c.Expectations = o.Expectations
		c.explicitExpectations = true
	}
}

func (c *SuiteConfig) validate() error {
	for i, spec := range c.Expectations {
		if spec.Path == "" {
			return fmt.Errorf("expectations[%d]: file is required", i)
		}
		tl, err := types.ParseTimeline(string(spec.Timeline))
		if err != nil {
			return fmt.Errorf("expectations[%d]: %w", i, err)
		}
		if tl == types.TimelineNow {
			return fmt.Errorf("expectations[%d]: timeline NOW is reserved for unlisted tests", i)
		}
		c.Expectations[i].Timeline = tl
	}
	for _, ext := range c.Extensions {
		if len(ext) < 2 || ext[0] != '.' {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	return nil
}
