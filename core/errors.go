package core

import (
	"errors"
	"fmt"
)

// ErrBootstrap is matched by every error that prevents an AnalysisContext
// from being initialised. Such errors end the run.
var ErrBootstrap = errors.New("context bootstrap failed")

// BootstrapError names the initialisation stage that failed.
type BootstrapError struct {
	Stage string
	Err   error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrBootstrap, e.Stage, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBootstrap) hold for any BootstrapError.
func (e *BootstrapError) Is(target error) bool { return target == ErrBootstrap }
