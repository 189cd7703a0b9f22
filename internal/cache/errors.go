package cache

import "errors"

// Construction-time errors. Runtime cache operations never fail; a
// degraded cache behaves as an always-missing one.
var (
	ErrNoBuckets       = errors.New("at least one bucket must be configured")
	ErrEmptyBucketName = errors.New("bucket name cannot be empty")
	ErrDuplicateBucket = errors.New("duplicate bucket name")
	ErrAlreadyRunning  = errors.New("cache coordinator is already running")
)
