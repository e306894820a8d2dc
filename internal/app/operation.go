package app

// Operation outcomes recorded in the journal.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SyncOperation tracks a CLI operation that may change local or remote state.
// Operations are created in memory with ID=0. Only state-changing commands
// persist them (giving them an auto-increment ID from the database).
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewSyncOperation creates a new in-memory operation.
func NewSyncOperation(operation, parameters string) *SyncOperation {
	return &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *SyncOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed when err is non-nil and returns err.
func (op *SyncOperation) Fail(err error) error {
	if err != nil {
		op.Status = StatusError
	}
	return err
}
