package planner

// FormatVersion selects the on-device updater's command grammar and, with
// it, which cycle-breaking and stash strategies apply (§4.4, §6).
type FormatVersion int

const (
	// FormatVersion1 uses RemoveBackwardEdges: back edges are broken by
	// trimming the violating transfer's source ranges, never stashing.
	FormatVersion1 FormatVersion = 1
	// FormatVersion2 introduces ReverseBackwardEdges (stashing), the
	// topological refine pass, and integer stash slot ids.
	FormatVersion2 FormatVersion = 2
	// FormatVersion3 adds split diff transfers, SHA-1-keyed ref-counted
	// stashes, implicit self-stash accounting, and SHA-1 hashes in
	// move/bsdiff/imgdiff commands. The touched source ranges are tracked
	// only for the erase split; no SHA-1 of them is computed.
	FormatVersion3 FormatVersion = 3
	// FormatVersion4 is format version 3 plus on-device updater features
	// this planner does not need to distinguish from 3.
	FormatVersion4 FormatVersion = 4
)

// Valid reports whether v is one of the four supported format versions.
func (v FormatVersion) Valid() bool {
	return v >= FormatVersion1 && v <= FormatVersion4
}
