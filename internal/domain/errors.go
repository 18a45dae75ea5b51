package domain

import (
	"errors"
	"fmt"
)

// FetchError reports an upstream retrieval failure (non-2xx or network).
type FetchError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.Path, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError reports a downstream write failure, possibly after the
// executor has exhausted its retries.
type DeliveryError struct {
	Resource   string // "Type/id"
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("deliver %s: status %d", e.Resource, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StorageError reports a duplicate-store persistence failure. Callers log
// it and continue; it never fails an in-progress event.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("seen store (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsFetchError reports whether any error in err's chain is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsDeliveryError reports whether any error in err's chain is a DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
