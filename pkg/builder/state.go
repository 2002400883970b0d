package builder

// State is the stage a transaction under construction has reached.
type State int

const (
	// Empty: no inputs or outputs yet.
	Empty State = iota

	// Building: inputs and outputs may be added; nothing is signed.
	Building

	// PartiallySigned: at least one input holds a signature, but not every
	// input is finalized.
	PartiallySigned

	// Finalized: every input has its final scriptSig or witness.
	Finalized

	// Extracted: the network transaction was produced. Terminal.
	Extracted
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case Building:
		return "Building"
	case PartiallySigned:
		return "PartiallySigned"
	case Finalized:
		return "Finalized"
	case Extracted:
		return "Extracted"
	}
	return "Unknown"
}
