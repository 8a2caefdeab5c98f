package saves

import (
	"fmt"
	"slices"
)

// BackupHistory returns the records of a config, newest first.
func (s *SyncService) BackupHistory(configID string) []*BackupRecord {
	recs := s.store.Backups(configID)
	slices.Reverse(recs)
	return recs
}

// OperationHistory returns the most recent operations, newest first.
func (s *SyncService) OperationHistory(limit int) ([]*Operation, error) {
	ops, err := s.journal.RecentOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
