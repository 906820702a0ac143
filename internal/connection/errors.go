package connection

import (
	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/lock"
	"github.com/rzbill/flojobs/internal/store"
)

// Errors callers of the facade match with errors.Is.
var (
	ErrInvalidArgument   = store.ErrInvalidArgument
	ErrOperationCanceled = store.ErrOperationCanceled
	ErrLockTimeout       = lock.ErrLockTimeout
	ErrLoad              = job.ErrLoad
)
