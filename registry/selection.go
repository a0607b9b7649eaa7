package registry

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Slice is a "N:M" selector from --run-chunk or --run-part
type Slice struct {
	N int
	M int
}

// ParseSlice parses "N:M"
func ParseSlice(s string) (Slice, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Slice{}, fmt.Errorf("invalid selector %q, expected N:M", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Slice{}, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Slice{}, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	if n < 0 || m <= 0 {
		return Slice{}, fmt.Errorf("invalid selector %q: values out of range", s)
	}
	return Slice{N: n, M: m}, nil
}

// SelectChunk returns chunk N of length M from the sorted tests, starting at
// N*M and wrapping around to the beginning when the end is reached.
func SelectChunk(tests []string, chunk Slice) []string {
	if len(tests) == 0 {
		return nil
	}
	start := (chunk.N * chunk.M) % len(tests)
	return wrap(tests, start, chunk.M)
}

// SelectPart returns part N (1-based) of M roughly equal parts. The last parts
// wrap around so that every part has the same length.
func SelectPart(tests []string, part Slice) ([]string, error) {
	if part.N < 1 || part.N > part.M {
		return nil, fmt.Errorf("part %d is out of range 1..%d", part.N, part.M)
	}
	if len(tests) == 0 {
		return nil, nil
	}
	length := (len(tests) + part.M - 1) / part.M
	start := ((part.N - 1) * length) % len(tests)
	return wrap(tests, start, length), nil
}

func wrap(tests []string, start, length int) []string {
	if length > len(tests) {
		length = len(tests)
	}
	out := make([]string, 0, length)
	for i := 0; i < length; i++ {
		out = append(out, tests[(start+i)%len(tests)])
	}
	return out
}

// Shuffle permutes the tests deterministically for a seed
func Shuffle(tests []string, seed uint64) []string {
	out := append([]string(nil), tests...)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
