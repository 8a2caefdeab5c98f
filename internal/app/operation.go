package app

// Operation status values stored in the journal.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks a CLI command. It lives in memory with ID=0 until Track
// persists it in the journal.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation that succeeds unless
// marked otherwise.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the journal.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}
