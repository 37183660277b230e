package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/myjd_bridge/internal/types"
)

// RemoteError is a failure reported by the MyJDownloader service or a device.
type RemoteError struct {
	Status int             `json:"-"`
	Source string          `json:"src"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s (status %d)", e.Source, e.Type, e.Status)
}

// Remote error types the client reacts to.
const (
	ErrTypeTokenInvalid  = "TOKEN_INVALID"
	ErrTypeAuthFailed    = "AUTH_FAILED"
	ErrTypeBadParameters = "BAD_PARAMETERS"
	ErrTypeOffline       = "OFFLINE"
)

// IsTokenInvalid reports whether err says the session token expired.
func IsTokenInvalid(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Type == ErrTypeTokenInvalid
}

// IsRemote reports whether err was produced by the remote side rather than
// the transport.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

func parseRemoteError(status int, body []byte) *RemoteError {
	re := &RemoteError{Status: status}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), re) == nil && re.Type != "" {
		re.Status = status
		return re
	}
	re.Source = "MYJD"
	re.Type = "UNKNOWN"
	return re
}

func remoteRejection(op string, re *RemoteError) error {
	return types.NewError(types.CodeRemoteRejection, remoteMessage(op, re), re)
}

func remoteMessage(op string, re *RemoteError) string {
	switch re.Type {
	case ErrTypeAuthFailed:
		return "Invalid email or password"
	case ErrTypeTokenInvalid:
		return "Session expired"
	case ErrTypeOffline:
		return "Device is offline"
	default:
		return fmt.Sprintf("%s failed: %s", op, re.Type)
	}
}

func notLoggedIn() error {
	return types.NewError(types.CodeNotReady, "Not logged in", nil)
}

func transportFailure(op string, err error) error {
	return types.NewError(types.CodeTransportFailure, op+" request failed", err)
}
