package cache

import "errors"

var (
	// ErrPersist wraps a failure reported by Store.Store.
	ErrPersist = errors.New("asyncmem: persist failed")
	// ErrRetrieve wraps a failure reported by Store.Retrieve.
	ErrRetrieve = errors.New("asyncmem: retrieve failed")
	// ErrCodec wraps a Serializer failure.
	ErrCodec = errors.New("asyncmem: codec failed")
	// ErrObsoleted is returned when a handle is requested for an object whose
	// last reference is already gone.
	ErrObsoleted = errors.New("asyncmem: object obsoleted")
	// ErrClosed is returned by reads and new async handles after Manager.Close.
	ErrClosed = errors.New("asyncmem: manager closed")
	// ErrInvalidConfig is returned by New and Config.Validate.
	ErrInvalidConfig = errors.New("asyncmem: invalid config")
)
