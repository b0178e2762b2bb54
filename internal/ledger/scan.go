package ledger

import (
	"errors"
	"fmt"
)

// errUndecodable marks a stored row whose details are not valid JSON.
var errUndecodable = errors.New("ledger: undecodable record")

// finishScan completes an Entry read from a SQL backend.
func finishScan(e Entry, idx int64, details []byte) (Entry, error) {
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: negative index %d", errUndecodable, idx)
	}
	d, err := decodeDetails(details)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: index %d: %v", errUndecodable, idx, err)
	}
	e.Index = uint64(idx)
	e.Details = d
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
