package types

// TestArgs are the per-worker arguments handed to the checkers. Each test
// works on its own copy, so a hash reported by the driver never leaks into
// the next test.
type TestArgs struct {
	// PNGPath is where the driver writes the rendered image, empty when pixel
	// tests are disabled
	PNGPath string
	// Hash is the image checksum reported by the driver with #MD5:
	Hash        string
	NewBaseline bool
}

// DriverOutput is what the driver produced for one test
type DriverOutput struct {
	// Text is everything the driver printed between the dispatch and #EOF,
	// minus the protocol lines
	Text     string
	Crashed  bool
	TimedOut bool
	// Detail explains a crash or timeout detected by the worker rather than
	// reported by the driver
	Detail string
	// Stderr is the tail of the driver's stderr written while the test ran
	Stderr string
	// StderrTruncated is set when the start of Stderr was dropped
	StderrTruncated bool
}
