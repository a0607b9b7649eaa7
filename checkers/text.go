package checkers

import (
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	kindActual   = "actual"
	kindExpected = "expected"
	kindDiff     = "diff"
	suffixText   = ".txt"
)

// TextChecker compares the text dump of a test with its -expected.txt baseline
type TextChecker struct {
	cfg Config
}

var _ Checker = (*TextChecker)(nil)

func (c *TextChecker) Name() string { return "text" }

func (c *TextChecker) Check(tc types.TestCase, out *types.DriverOutput, args types.TestArgs) ([]types.Failure, error) {
	actual := normalizeNewlines(out.Text)

	if c.cfg.NewBaseline {
		p := c.cfg.Baselines.NewBaselinePath(tc.RelPath, suffixText)
		if err := writeFile(p, []byte(actual)); err != nil {
			return nil, err
		}
		c.cfg.Log.Debug("Wrote text baseline", "test", tc.RelPath, "path", p)
		return nil, nil
	}

	data, err := readOptional(c.cfg.Baselines.ExpectedBaseline(tc.RelPath, suffixText))
	if err != nil {
		return nil, err
	}
	expected := normalizeNewlines(string(data))
	if actual == expected {
		return nil, nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: tc.RelPath + " (expected)",
		ToFile:   tc.RelPath + " (actual)",
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", tc.RelPath, err)
	}

	failure := types.Failure{Kind: types.FailureTextMismatch, Diff: diff}
	if failure.ActualPath, err = writeArtifact(c.cfg.ResultsDir, tc.RelPath, kindActual, suffixText, []byte(actual)); err != nil {
		return nil, err
	}
	if failure.ExpectedPath, err = writeArtifact(c.cfg.ResultsDir, tc.RelPath, kindExpected, suffixText, []byte(expected)); err != nil {
		return nil, err
	}
	if failure.DiffPath, err = writeArtifact(c.cfg.ResultsDir, tc.RelPath, kindDiff, suffixText, []byte(diff)); err != nil {
		return nil, err
	}
	return []types.Failure{failure}, nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
