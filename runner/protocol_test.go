package runner

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

func TestReadTestOutput(t *testing.T) {
	const uri = "file:///layout/fast/a.html"

	tests := []struct {
		name       string
		input      string
		args       types.TestArgs
		want       *types.DriverOutput
		wantHash   string
		wantDesync bool
	}{
		{
			name:  "plain text",
			input: "#URL:" + uri + "\nline one\nline two\n#EOF\n",
			want:  &types.DriverOutput{Text: "line one\nline two\n"},
		},
		{
			name:     "hash overrides the caller copy",
			input:    "#URL:" + uri + "\n#MD5:abc123\ntext\n#EOF\n",
			args:     types.TestArgs{Hash: "old"},
			want:     &types.DriverOutput{Text: "text\n"},
			wantHash: "abc123",
		},
		{
			name:  "driver timeout",
			input: "#URL:" + uri + "\n#TEST_TIMED_OUT\npartial\n#EOF\n",
			want:  &types.DriverOutput{Text: "partial\n", TimedOut: true},
		},
		{
			name:  "carriage returns",
			input: "#URL:" + uri + "\r\nbody\r\n#EOF\r\n",
			want:  &types.DriverOutput{Text: "body\r\n"},
		},
		{
			name:  "stream ends before #EOF",
			input: "#URL:" + uri + "\nhalf\n",
			want:  &types.DriverOutput{Text: "half\n", Crashed: true},
		},
		{
			name:  "partial last line",
			input: "#URL:" + uri + "\nhalf",
			want:  &types.DriverOutput{Text: "half", Crashed: true},
		},
		{
			name:  "empty stream",
			input: "",
			want:  &types.DriverOutput{Crashed: true},
		},
		{
			name:       "wrong test reported",
			input:      "#URL:file:///layout/fast/b.html\ntext\n#EOF\n",
			wantDesync: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, args, err := readTestOutput(bufio.NewReader(strings.NewReader(tt.input)), uri, tt.args)
			if tt.wantDesync {
				require.ErrorIs(t, err, ErrProtocolDesync)
				assert.Nil(t, out)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			if tt.wantHash != "" {
				assert.Equal(t, tt.wantHash, args.Hash)
			}
		})
	}
}

func TestReadTestOutputConsecutiveTests(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(
		"#URL:a\nfirst\n#EOF\n" +
			"#URL:b\n#MD5:ff\nsecond\n#EOF\n",
	))

	out, args, err := readTestOutput(r, "a", types.TestArgs{})
	require.NoError(t, err)
	assert.Equal(t, "first\n", out.Text)
	assert.Empty(t, args.Hash)

	out, args, err = readTestOutput(r, "b", types.TestArgs{})
	require.NoError(t, err)
	assert.Equal(t, "second\n", out.Text)
	assert.Equal(t, "ff", args.Hash)
}

// fakeShell answers every URI it reads from in with the given body
func fakeShell(t *testing.T, in io.Reader, out io.WriteCloser, body func(uri string) string) {
	t.Helper()
	go func() {
		defer out.Close()
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			uri := sc.Text()
			if _, err := io.WriteString(out, "#URL:"+uri+"\n"+body(uri)+"#EOF\n"); err != nil {
				return
			}
		}
	}()
}

func TestPipeDriverDispatch(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	fakeShell(t, stdinR, stdoutW, func(uri string) string {
		return "rendered " + uri + "\n"
	})

	stderr := newTailBuffer(0)
	d := newPipeDriver(stdinW, stdoutR, stderr, "/tmp/png_result0.png", false)
	assert.Equal(t, "/tmp/png_result0.png", d.PNGPath())

	for _, uri := range []string{"file:///a.html", "file:///b.html"} {
		_, _ = stderr.Write([]byte("noise for " + uri + "\n"))
		out, _, err := d.Run(uri, types.TestArgs{})
		require.NoError(t, err)
		assert.Equal(t, "rendered "+uri+"\n", out.Text)
		assert.False(t, out.Crashed)
		assert.Equal(t, "", out.Stderr, "stderr written before dispatch belongs to the previous test")
	}
	require.NoError(t, d.Close())
}

func TestPipeDriverDispatchAfterExit(t *testing.T) {
	_, stdinW := io.Pipe()
	require.NoError(t, stdinW.Close())

	d := newPipeDriver(stdinW, strings.NewReader(""), nil, "", false)
	out, _, err := d.Run("file:///a.html", types.TestArgs{})
	require.NoError(t, err)
	assert.True(t, out.Crashed)
	assert.Contains(t, out.Detail, "failed to dispatch test")
}

type nopWriteCloser struct {
	io.Writer
	closed bool
}

func (w *nopWriteCloser) Close() error {
	w.closed = true
	return nil
}

func TestPipeDriverSingly(t *testing.T) {
	stdin := &nopWriteCloser{Writer: &strings.Builder{}}
	d := newPipeDriver(stdin, strings.NewReader("#URL:file:///a.html\nonce\n#EOF\n"), nil, "", true)

	out, _, err := d.Run("file:///a.html", types.TestArgs{})
	require.NoError(t, err)
	assert.Equal(t, "once\n", out.Text)
	assert.Empty(t, stdin.Writer.(*strings.Builder).String(), "nothing is written to a run-singly driver")

	_, _, err = d.Run("file:///b.html", types.TestArgs{})
	require.Error(t, err)

	require.NoError(t, d.Close())
	assert.True(t, stdin.closed)
}

func TestPipeDriverDesync(t *testing.T) {
	stdin := &nopWriteCloser{Writer: io.Discard}
	d := newPipeDriver(stdin, strings.NewReader("#URL:file:///other.html\n#EOF\n"), nil, "", false)

	_, _, err := d.Run("file:///a.html", types.TestArgs{})
	require.True(t, errors.Is(err, ErrProtocolDesync))
	require.NoError(t, d.Kill())
}

func TestPipeDriverCloseWaitsForExit(t *testing.T) {
	stdin := &nopWriteCloser{Writer: io.Discard}
	d := newPipeDriver(stdin, strings.NewReader(""), nil, "", false)
	waited := 0
	d.wait = func() error {
		waited++
		return nil
	}

	start := time.Now()
	require.NoError(t, d.Close())
	require.NoError(t, d.Kill())
	assert.Less(t, time.Since(start), driverCloseGrace)
	assert.Equal(t, 1, waited, "the process is reaped once")
}
