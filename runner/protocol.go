package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// Lines the driver uses to frame the output of a test
const (
	eofLine        = "#EOF"
	urlPrefix      = "#URL:"
	md5Prefix      = "#MD5:"
	timedOutPrefix = "#TEST_TIMED_OUT"
)

// ErrProtocolDesync means the driver reported a different test than the one
// dispatched. Results from that driver can no longer be trusted, so the run
// is aborted.
var ErrProtocolDesync = errors.New("driver output out of sync with dispatched test")

// readTestOutput reads the output of one test up to the #EOF line. args is
// this test's own copy of the test arguments; a #MD5: line overrides its hash.
// An EOF before #EOF means the driver died and is reported as a crash.
func readTestOutput(r *bufio.Reader, uri string, args types.TestArgs) (*types.DriverOutput, types.TestArgs, error) {
	out := &types.DriverOutput{}
	var text strings.Builder

	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			out.Crashed = true
			out.Detail = fmt.Sprintf("reading driver output: %v", err)
			break
		}
		if errors.Is(err, io.EOF) && line == "" {
			out.Crashed = true
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == eofLine:
			out.Text = text.String()
			return out, args, nil
		case strings.HasPrefix(trimmed, urlPrefix):
			got := strings.TrimPrefix(trimmed, urlPrefix)
			if got != uri {
				return nil, args, fmt.Errorf("%w: got %q, want %q", ErrProtocolDesync, got, uri)
			}
		case strings.HasPrefix(trimmed, md5Prefix):
			args.Hash = strings.TrimPrefix(trimmed, md5Prefix)
		case strings.HasPrefix(trimmed, timedOutPrefix):
			// The driver gave up on the test but still finishes with #EOF
			out.TimedOut = true
		default:
			text.WriteString(line)
		}

		if errors.Is(err, io.EOF) {
			// Partial last line without a newline, then EOF
			out.Crashed = true
			break
		}
	}

	out.Text = text.String()
	return out, args, nil
}
