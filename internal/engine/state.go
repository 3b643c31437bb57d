package engine

import "time"

// accountState is the per-account lifecycle record for one Run. All fields
// are guarded by the Run's single coarse lock; mutations are short and rare
// next to the network I/O around them.
type accountState struct {
	placed         []string            // accepted ClientOrderIds in tier order
	linkToTier     map[string]int      // ClientOrderId → tier index 1..3
	pending        map[string]struct{} // live orders, terminal status not yet observed
	processedFills map[string]struct{} // fills already handed to the TP/SL worker
	filledTiers    []int               // tier indices in fill-observation order
	canceled       []string            // cancelled ClientOrderIds, first record wins
	canceledSet    map[string]struct{}

	positionArmed bool // at least one tier filled with TP/SL attached
	monitorLive   bool // a position monitor goroutine exists for this account

	placedAt   time.Time // timeout origin, stamped when placement starts
	done       bool
	timeout    bool
	userCancel bool
}

func newAccountState() *accountState {
	return &accountState{
		linkToTier:     make(map[string]int),
		pending:        make(map[string]struct{}),
		processedFills: make(map[string]struct{}),
		canceledSet:    make(map[string]struct{}),
	}
}

// recordCancel appends the id to the cancel list exactly once.
func (s *accountState) recordCancel(id string) {
	if _, dup := s.canceledSet[id]; dup {
		return
	}
	s.canceledSet[id] = struct{}{}
	s.canceled = append(s.canceled, id)
	delete(s.pending, id)
}
