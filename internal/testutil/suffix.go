package testutil

// FixedSuffixGenerator returns the same table suffix every time, so table
// names and golden snapshots are reproducible.
//
// Thread-safety: FixedSuffixGenerator is stateless and safe for concurrent use.
type FixedSuffixGenerator struct {
	suffix string
}

// NewFixedSuffixGenerator returns a generator for suffix. An empty suffix
// becomes "test".
func NewFixedSuffixGenerator(suffix string) *FixedSuffixGenerator {
	if suffix == "" {
		suffix = "test"
	}
	return &FixedSuffixGenerator{suffix: suffix}
}

// Generate returns the fixed suffix.
func (g *FixedSuffixGenerator) Generate() string {
	return g.suffix
}
