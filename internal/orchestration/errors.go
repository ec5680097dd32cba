package orchestration

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

// ErrSessionNotFound is returned by the store client when the session no
// longer exists remotely.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidInput marks a precondition failure on an operation request.
var ErrInvalidInput = errors.New("invalid input")

// ErrUnknownArtifact is returned when an operation names an artifact that
// is not in the current session's history.
var ErrUnknownArtifact = errors.New("artifact not found in current session")

// ErrCapabilityUnavailable is returned when an operation is requested for
// a target kind whose profile does not declare the needed capability.
var ErrCapabilityUnavailable = errors.New("operation not available for target kind")

// OperationPendingError rejects an operation-start request while another
// operation is in flight. Requests are refused, never queued.
type OperationPendingError struct {
	Current models.PendingOperation
}

func (e *OperationPendingError) Error() string {
	return fmt.Sprintf("operation already pending: %s", e.Current)
}

// CollabError is a failure reported by (or while reaching) an external
// collaborator. StatusCode is zero when no HTTP response was received;
// RemoteMessage is the human-readable message from the error payload, when
// the collaborator provided one.
type CollabError struct {
	Service       string
	StatusCode    int
	RemoteMessage string
	Err           error
}

func (e *CollabError) Error() string {
	switch {
	case e.StatusCode != 0 && e.RemoteMessage != "":
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.RemoteMessage)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s request failed", e.Service)
	}
}

func (e *CollabError) Unwrap() error {
	return e.Err
}

// ConnectionRefused reports whether the failure was a refused connection,
// i.e. the collaborator process is not reachable at all.
func (e *CollabError) ConnectionRefused() bool {
	if e.Err == nil {
		return false
	}
	if errors.Is(e.Err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(e.Err, &opErr) && opErr.Op == "dial"
}
