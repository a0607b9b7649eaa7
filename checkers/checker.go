// Package checkers compares what the driver produced for a test against the
// test's baselines.
package checkers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

// Checker inspects the output of one test. Mismatches are returned as
// failures; an error means the check itself could not be carried out.
type Checker interface {
	Name() string
	Check(tc types.TestCase, out *types.DriverOutput, args types.TestArgs) ([]types.Failure, error)
}

// Baselines locates expected results on disk
type Baselines interface {
	ExpectedBaseline(rel, suffix string) string
	NewBaselinePath(rel, suffix string) string
}

// Config is shared by every checker of a run
type Config struct {
	Log        log.Logger
	ResultsDir string
	Baselines  Baselines
	// NewBaseline writes actual results as baselines instead of comparing
	NewBaseline bool
	PixelTests  bool
	Fuzzy       *FuzzyMatcher
}

// New returns the checkers in the order they run: text first, then image
func New(cfg Config) []Checker {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	checkers := []Checker{&TextChecker{cfg: cfg}}
	if cfg.PixelTests {
		checkers = append(checkers, &ImageHashChecker{cfg: cfg})
	}
	return checkers
}

// artifactName returns fast/js/a-<kind><suffix> for fast/js/a.html
func artifactName(rel, kind, suffix string) string {
	ext := filepath.Ext(rel)
	return strings.TrimSuffix(rel, ext) + "-" + kind + suffix
}

// writeArtifact writes data under the results directory and returns the path
// relative to it
func writeArtifact(resultsDir, rel, kind, suffix string, data []byte) (string, error) {
	name := artifactName(rel, kind, suffix)
	if err := writeFile(filepath.Join(resultsDir, filepath.FromSlash(name)), data); err != nil {
		return "", err
	}
	return name, nil
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", p, err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// readOptional returns the file contents, or nil if the file does not exist
func readOptional(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}
