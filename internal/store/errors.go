package store

import "errors"

// Domain errors surfaced to the API layer. Precondition failures on the
// merge engine are detected inside the transaction, so a caller racing with
// a concurrent edit gets one of these rather than a partial write.
var (
	ErrNotFound             = errors.New("record not found")
	ErrNoNeighbor           = errors.New("no slot available to merge with on the right")
	ErrAlreadyMerged        = errors.New("slot is merged into another slot; open the root slot instead")
	ErrNotMerged            = errors.New("slot is not part of a merged group")
	ErrCapacityExceeded     = errors.New("tray already has the maximum number of slots")
	ErrInvalidConfiguration = errors.New("invalid slot grid configuration")
	ErrValidation           = errors.New("invalid input")
)

// IsDomainErr reports whether err is one of the store's domain errors, as
// opposed to an underlying database failure.
func IsDomainErr(err error) bool {
	for _, domain := range []error{
		ErrNotFound, ErrNoNeighbor, ErrAlreadyMerged, ErrNotMerged,
		ErrCapacityExceeded, ErrInvalidConfiguration, ErrValidation,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}
