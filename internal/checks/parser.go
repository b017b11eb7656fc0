package checks

// ParseResult is the normalized output from a parser.
type ParseResult struct {
	Passed   bool
	Summary  string
	Findings interface{} // string or a parser-specific struct
}

// Parser converts raw command output into a structured ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}
