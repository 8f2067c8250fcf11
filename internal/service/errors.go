package service

import "errors"

// ErrArchiveDisabled is returned when no object store is configured.
var ErrArchiveDisabled = errors.New("snapshot archive not configured")
