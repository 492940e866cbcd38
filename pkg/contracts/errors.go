package contracts

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrServiceNotFound is reported when the agent does not host the requested
// service at all.
var ErrServiceNotFound = errors.New("service not found on agent")

// RemoteError is an application error raised by the agent while handling a
// request. It reached the agent, so it is never a network failure.
type RemoteError struct {
	Service string
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s.%s: %s", e.Service, e.Method, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s (%s)", e.Service, e.Method, e.Message, e.Code)
}
