// Package cmn provides common low-level types and utilities shared by every
// storage, indexing, and queueing package in the core.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the taxonomy in the core's error handling design.
// Protocol frontends (out of scope here) map these onto their own wire
// errors (HTTP status, SMTP reply code, JMAP "type" string, ...).
var (
	ErrNotFound        = stderrors.New("not found")
	ErrForbidden       = stderrors.New("forbidden")
	ErrQuotaExceeded   = stderrors.New("quota exceeded")
	ErrAssertionFailed = stderrors.New("assertion failed")
	ErrDataCorruption  = stderrors.New("data corruption")
)

// StorageError wraps a backend I/O or (de)serialization failure. It always
// aborts the request that triggered it with an internal-server-error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage fault (%s): %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// CorruptKeyError is raised when a key's encoding does not match its
// subspace schema. The containing operation is aborted; the process never
// crashes on this class of error.
type CorruptKeyError struct {
	Subspace byte
	Key      []byte
	Reason   string
}

func (e *CorruptKeyError) Error() string {
	return fmt.Sprintf("data corruption: subspace=0x%02x key=%x: %s", e.Subspace, e.Key, e.Reason)
}
func (e *CorruptKeyError) Unwrap() error { return ErrDataCorruption }

// CausedBy annotates err with a breadcrumb identifying where it was
// re-raised, without discarding the original error for errors.Is/As.
func CausedBy(location string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, location)
}

// PermanentError marks a failure a caller should not retry: a task worker
// drops the work item instead of rescheduling it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsPermanent reports true for it and anything that
// wraps it in turn. A nil err wraps to nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked via Permanent anywhere in its
// wrap chain. An unmarked error is assumed transient.
func IsPermanent(err error) bool {
	var p *PermanentError
	return stderrors.As(err, &p)
}
