package trainer

// State names which parameter blocks the optimizer currently updates.
type State int

const (
	FixedEmbeddingsAndM State = iota
	TuneEmbeddings
	TuneM
	Converged
)

func (s State) String() string {
	switch s {
	case FixedEmbeddingsAndM:
		return "fixed_embeddings_and_M"
	case TuneEmbeddings:
		return "tune_embeddings"
	case TuneM:
		return "tune_M"
	case Converged:
		return "converged"
	}
	return "unknown"
}

// Mode holds the fine-tune flags. The encoder weights are always trainable.
type Mode struct {
	FineTuneEmbeddings bool
	FineTuneM          bool
}

func (m Mode) State() State {
	switch {
	case m.FineTuneEmbeddings && m.FineTuneM:
		return TuneM
	case m.FineTuneEmbeddings:
		return TuneEmbeddings
	case m.FineTuneM:
		// only reachable from a config that starts with M tuned
		return TuneM
	}
	return FixedEmbeddingsAndM
}

// Escalate enables the next parameter block after a non-improving epoch.
// Embeddings come first, then M. When both are already on it reports
// converged and returns m unchanged.
func (m Mode) Escalate() (Mode, bool) {
	switch {
	case !m.FineTuneEmbeddings:
		m.FineTuneEmbeddings = true
	case !m.FineTuneM:
		m.FineTuneM = true
	default:
		return m, true
	}
	return m, false
}
