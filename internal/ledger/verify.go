package ledger

// FailureKind classifies the first break found by Verify.
type FailureKind string

const (
	// BrokenLink: an entry was removed, reordered or inserted.
	BrokenLink FailureKind = "BROKEN_LINK"
	// ContentTampered: an entry's fields were altered after it was appended.
	ContentTampered FailureKind = "CONTENT_TAMPERED"
)

// State is the externally visible condition of a ledger.
type State string

const (
	StateIntact      State = "INTACT"
	StateCompromised State = "COMPROMISED"
)

// Verification is the result of walking the chain.
type Verification struct {
	Intact   bool        `json:"intact"`
	State    State       `json:"state"`
	Length   int         `json:"length"`
	Checked  int         `json:"checked"`
	BrokenAt *uint64     `json:"brokenAt"`
	Reason   FailureKind `json:"reason,omitempty"`
	Expected string      `json:"expected,omitempty"`
	Actual   string      `json:"actual,omitempty"`
}

// walker checks entries one at a time in chain order, so that backends can
// stream rows instead of loading the whole chain.
type walker struct {
	pos      uint64
	prevHash string
	res      Verification
}

func newWalker() *walker {
	return &walker{
		prevHash: GenesisPrevHash,
		res:      Verification{Intact: true, State: StateIntact},
	}
}

// visit checks the entry found at the next chain position. It returns false
// once a break has been recorded; later entries are not examined.
func (w *walker) visit(e *Entry) bool {
	if !w.res.Intact {
		return false
	}
	if e.Index != w.pos || e.PrevHash != w.prevHash {
		w.fail(BrokenLink, w.prevHash, e.PrevHash)
		return false
	}
	hash, err := ComputeHash(e)
	if err != nil || hash != e.Hash {
		w.fail(ContentTampered, hash, e.Hash)
		return false
	}
	w.prevHash = e.Hash
	w.pos++
	w.res.Checked++
	return true
}

// damaged records an undecodable record at the current position.
func (w *walker) damaged() {
	if w.res.Intact {
		w.fail(BrokenLink, w.prevHash, "")
	}
}

func (w *walker) fail(kind FailureKind, expected, actual string) {
	at := w.pos
	w.res.Intact = false
	w.res.State = StateCompromised
	w.res.BrokenAt = &at
	w.res.Reason = kind
	w.res.Expected = expected
	w.res.Actual = actual
}

func (w *walker) result(length int) *Verification {
	res := w.res
	res.Length = length
	return &res
}

// verifyEntries walks an in-memory chain.
func verifyEntries(entries []Entry) *Verification {
	w := newWalker()
	for i := range entries {
		if !w.visit(&entries[i]) {
			break
		}
	}
	return w.result(len(entries))
}
