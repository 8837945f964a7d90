package integration

import (
	"context"
	"sync"
)

// StaticRepDirectory answers rep lookups from an in-memory assignment table.
type StaticRepDirectory struct {
	mu          sync.RWMutex
	assignments map[string]string
}

func NewStaticRepDirectory(assignments map[string]string) *StaticRepDirectory {
	d := &StaticRepDirectory{assignments: map[string]string{}}
	for doc, rep := range assignments {
		d.assignments[doc] = rep
	}
	return d
}

func (d *StaticRepDirectory) Assign(documentID, repID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assignments[documentID] = repID
}

func (d *StaticRepDirectory) AssignedRep(ctx context.Context, documentID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rep, ok := d.assignments[documentID]
	return rep, ok && rep != "", nil
}
