package takumi

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fixed failure taxonomy. Callers wrap these with
// fmt.Errorf("...: %w", ...) so errors.Is still matches after annotation.
var (
	ErrDownloadUnavailable = errors.New("no download tool available (need curl or wget)")
	ErrDownloadFailed      = errors.New("download failed")
	ErrUnpackFailed        = errors.New("unpack failed")
	ErrPatchFailed         = errors.New("patch failed")
	ErrConfiguration       = errors.New("configuration error")
	ErrPackagingFailed     = errors.New("packaging failed")
	ErrPrivilegeEscalation = errors.New("privilege escalation failed")
)

// StageError reports the exact pipeline stage that aborted the run, together
// with the working directory a human has to inspect before re-invoking.
type StageError struct {
	Component string
	Stage     string
	Scope     string // working directory of the failed stage
	ExitCode  int
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s/%s failed in %s (exit code %d): %v",
		e.Component, e.Stage, e.Scope, e.ExitCode, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
