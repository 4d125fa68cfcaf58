package coordinator

import "errors"

// Error kinds returned by the coordinator. Callers match them with errors.Is;
// returned errors wrap them with the offending path, block or worker.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrParentMissing       = errors.New("parent directory missing")
	ErrNotEmpty            = errors.New("directory not empty")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInsufficientWorkers = errors.New("insufficient workers")
	ErrInsufficientSpace   = errors.New("insufficient space")
	ErrUnauthorizedWorker  = errors.New("worker not assigned to block")
	ErrBlockNotFound       = errors.New("block not found")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
)
