package state

// ImportResult is the outcome of trying to connect a block.
type ImportResult int

// Set of import results.
const (
	NoParent ImportResult = iota + 1
	Exist
	InvalidBlock
	DiscontinuousBranch
	ImmutableBranch
	ImportedBest
	ImportedNotBest
)

var resultNames = map[ImportResult]string{
	NoParent:            "NO_PARENT",
	Exist:               "EXIST",
	InvalidBlock:        "INVALID_BLOCK",
	DiscontinuousBranch: "DISCONTINUOUS_BRANCH",
	ImmutableBranch:     "IMMUTABLE_BRANCH",
	ImportedBest:        "IMPORTED_BEST",
	ImportedNotBest:     "IMPORTED_NOT_BEST",
}

// IsSuccessful reports whether the block was stored.
func (r ImportResult) IsSuccessful() bool {
	return r == ImportedBest || r == ImportedNotBest
}

// IsTopological reports whether the block may connect later once the
// missing blocks arrive.
func (r ImportResult) IsTopological() bool {
	return r == NoParent || r == DiscontinuousBranch || r == ImmutableBranch
}

// String implements the fmt.Stringer interface.
func (r ImportResult) String() string {
	if n, exists := resultNames[r]; exists {
		return n
	}
	return "UNKNOWN"
}
