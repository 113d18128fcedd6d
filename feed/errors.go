package feed

import (
	"errors"
	"fmt"
	"strings"
)

// ConnError marks failures of the transport itself, as opposed to
// message-level problems. Only connection-class errors drive the
// reconnect state machine.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// connSubstrings matches error text from third-party transports that
// do not wrap their failures in a typed error.
var connSubstrings = []string{
	"connection",
	"timeout",
	"closed",
	"refused",
	"reset",
	"eof",
}

// IsConnError reports whether err is connection-class. Typed errors
// are checked first; anything else falls back to inspecting the error
// text.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnError
	if errors.As(err, &ce) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range connSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
