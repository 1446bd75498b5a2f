package workspace

import "fmt"

// CreationError means the scratch namespace or a workspace directory could
// not be created.
type CreationError struct {
	Path string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create workspace %q: %v", e.Path, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// StagingError means an upload could not be persisted into its workspace,
// or was not present afterwards.
type StagingError struct {
	WorkspaceID  string
	OriginalName string
	Err          error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("stage %q into workspace %s: %v", e.OriginalName, e.WorkspaceID, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }
