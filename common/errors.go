package common

import "errors"

// Sentinel errors returned across component boundaries. Wrapping context
// (which page, which key) is added with github.com/pkg/errors at the call
// site; callers unwrap back to these with errors.Is / errors.Cause.
var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrDuplicateKey  = errors.New("key already exists")
	ErrDiskFull      = errors.New("disk full")
	ErrClosed        = errors.New("storage engine closed")
	ErrKeyEmpty      = errors.New("key cannot be empty")
	ErrPageRangeFull = errors.New("page range is full")
	ErrOutOfRange    = errors.New("value out of range for attribute size")
	ErrNotFound      = errors.New("not found on disk")
	ErrCorrupt       = errors.New("page data is corrupt")
	ErrIO            = errors.New("disk i/o error")
)
