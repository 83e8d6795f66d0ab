package factory

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is matched by every precondition failure raised before
// anything is signed or persisted.
var ErrInvalidArgument = errors.New("invalid argument")

var (
	ErrCANotFound          = fmt.Errorf("%w: CA not found", ErrInvalidArgument)
	ErrRootCANotFound      = fmt.Errorf("%w: root CA not found", ErrInvalidArgument)
	ErrProfileRequired     = fmt.Errorf("%w: must provide a CA profile", ErrInvalidArgument)
	ErrValidityRequired    = fmt.Errorf("%w: must provide a validity period", ErrInvalidArgument)
	ErrCSROrSPKIRequired   = fmt.Errorf("%w: must provide a CSR or SPKI", ErrInvalidArgument)
	ErrSubjectRequired     = fmt.Errorf("%w: must provide a subject", ErrInvalidArgument)
	ErrCANameRequired      = fmt.Errorf("%w: must provide a name for the new CA", ErrInvalidArgument)
	ErrRenewCANameRequired = fmt.Errorf("%w: must provide the name of the CA to renew", ErrInvalidArgument)
)
