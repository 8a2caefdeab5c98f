package testutil

import (
	"fmt"
	"slices"
	"sync"

	"savesync/internal/saves"
)

// MemoryJournal is an in-memory saves.Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	clock   saves.Clock
	seq     int64
	pending []*saves.PendingTransfer
	ops     []*saves.Operation
	// FailAdds makes AddPendingTransfer fail.
	FailAdds bool
}

func NewMemoryJournal(clock saves.Clock) *MemoryJournal {
	return &MemoryJournal{clock: clock}
}

func (j *MemoryJournal) AddPendingTransfer(t *saves.PendingTransfer) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.FailAdds {
		return 0, fmt.Errorf("journal unavailable")
	}
	now := j.clock.Now()
	for _, p := range j.pending {
		if p.Kind == t.Kind && p.ConfigID == t.ConfigID && p.RemoteKey == t.RemoteKey {
			p.UpdatedAt = now
			return p.ID, nil
		}
	}
	j.seq++
	j.pending = append(j.pending, &saves.PendingTransfer{
		ID:        j.seq,
		Kind:      t.Kind,
		ConfigID:  t.ConfigID,
		RemoteKey: t.RemoteKey,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return j.seq, nil
}

func (j *MemoryJournal) CompletePendingTransfer(id int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = slices.DeleteFunc(j.pending, func(p *saves.PendingTransfer) bool { return p.ID == id })
	return nil
}

func (j *MemoryJournal) FailPendingTransfer(id int64, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, p := range j.pending {
		if p.ID == id {
			p.Attempts++
			p.LastError = errMsg
			p.UpdatedAt = j.clock.Now()
		}
	}
	return nil
}

func (j *MemoryJournal) PendingTransfers() ([]*saves.PendingTransfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*saves.PendingTransfer, 0, len(j.pending))
	for _, p := range j.pending {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (j *MemoryJournal) CreateOperation(operation, parameters string) (*saves.Operation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	op := &saves.Operation{
		ID:         int64(len(j.ops) + 1),
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  j.clock.Now(),
	}
	j.ops = append(j.ops, op)
	cp := *op
	return &cp, nil
}

func (j *MemoryJournal) FinishOperation(id int64, status string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, op := range j.ops {
		if op.ID == id {
			op.Status = status
			op.FinishedAt = j.clock.Now()
			return nil
		}
	}
	return fmt.Errorf("operation %d not found", id)
}

func (j *MemoryJournal) RecentOperations(limit int) ([]*saves.Operation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*saves.Operation
	for i := len(j.ops) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *j.ops[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (j *MemoryJournal) Close() error { return nil }

var _ saves.Journal = (*MemoryJournal)(nil)
