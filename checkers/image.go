package checkers

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

const (
	suffixPNG      = ".png"
	suffixChecksum = ".checksum"
)

// ImageHashChecker compares the checksum of the rendered image with the
// test's -expected.checksum baseline. When a FuzzyMatcher is configured and
// both images are within its tolerance, the mismatch is reported as a fuzzy
// one instead.
type ImageHashChecker struct {
	cfg Config
}

var _ Checker = (*ImageHashChecker)(nil)

func (c *ImageHashChecker) Name() string { return "image" }

func (c *ImageHashChecker) Check(tc types.TestCase, out *types.DriverOutput, args types.TestArgs) ([]types.Failure, error) {
	if args.PNGPath == "" {
		return nil, nil
	}
	png, err := readOptional(args.PNGPath)
	if err != nil {
		return nil, err
	}
	hash := args.Hash
	if hash == "" && png != nil {
		sum := md5.Sum(png)
		hash = hex.EncodeToString(sum[:])
	}

	if c.cfg.NewBaseline {
		return nil, c.writeBaselines(tc, hash, png)
	}

	if hash == "" && tc.ExpectedHash == "" {
		// Neither side has an image, nothing to compare
		return nil, nil
	}
	if hash == tc.ExpectedHash {
		return nil, nil
	}

	failure := types.Failure{Kind: types.FailureImageMismatch}
	if tc.ExpectedHash == "" {
		failure.Detail = "missing expected image checksum"
	}

	expectedPNG, err := readOptional(c.cfg.Baselines.ExpectedBaseline(tc.RelPath, suffixPNG))
	if err != nil {
		return nil, err
	}
	if png != nil {
		if failure.ActualPath, err = writeArtifact(c.cfg.ResultsDir, tc.RelPath, kindActual, suffixPNG, png); err != nil {
			return nil, err
		}
	}
	if expectedPNG != nil {
		if failure.ExpectedPath, err = writeArtifact(c.cfg.ResultsDir, tc.RelPath, kindExpected, suffixPNG, expectedPNG); err != nil {
			return nil, err
		}
	}

	if c.cfg.Fuzzy != nil && png != nil && expectedPNG != nil {
		ratio, err := c.cfg.Fuzzy.Compare(expectedPNG, png)
		if err != nil {
			c.cfg.Log.Warn("Fuzzy image comparison failed", "test", tc.RelPath, "err", err)
		} else if c.cfg.Fuzzy.Within(ratio) {
			failure.Kind = types.FailureFuzzyImageMismatch
			failure.Detail = fmt.Sprintf("%.4f%% of pixels differ", ratio*100)
		}
	}
	return []types.Failure{failure}, nil
}

func (c *ImageHashChecker) writeBaselines(tc types.TestCase, hash string, png []byte) error {
	if hash != "" {
		if err := writeFile(c.cfg.Baselines.NewBaselinePath(tc.RelPath, suffixChecksum), []byte(hash)); err != nil {
			return err
		}
	}
	if png != nil {
		if err := writeFile(c.cfg.Baselines.NewBaselinePath(tc.RelPath, suffixPNG), png); err != nil {
			return err
		}
	}
	c.cfg.Log.Debug("Wrote image baselines", "test", tc.RelPath, "hash", hash)
	return nil
}
