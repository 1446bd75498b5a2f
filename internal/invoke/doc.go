// Package invoke runs the external document tool for one batch.
//
// Each invocation spawns the configured executable with a discrete argument
// vector built by package operation; no shell is involved. stdout and stderr
// are captured separately and capped at 64KB each.
//
// Timeout handling:
//   - The tool runs in its own process group
//   - When the timeout expires, SIGTERM is sent to the whole group
//   - After the grace period (5s by default) SIGKILL is sent if anything is still running
//   - Context cancellation terminates the group the same way
//
// Error handling:
//   - Spawn failure → ExecutionError{Reason: start}
//   - Non-zero exit → ExecutionError{Reason: exit} with the exit code and stderr
//   - Timeout → ExecutionError{Reason: timeout}
//   - Cancellation → ExecutionError{Reason: canceled}
//
// stderr is returned on success too; the tool may warn without failing.
package invoke
