package encryption

// Result represents the outcome of processing a single file.
type Result struct {
	// Input file path
	Input string

	// Output file path
	Output string

	// Action performed
	Action Action

	// Final lifecycle state
	State State

	// Resumed is set when an interrupted commit was completed instead of transcoding again
	Resumed bool

	// Input and output sizes in bytes
	InputSize  int64
	OutputSize int64

	// Number of chunks transcoded
	Chunks int

	// Non-fatal conditions, such as a recorded key path overriding the configured one
	Warnings []error

	// Any error that occurred during processing
	Error error
}
