package coordinator

import "fmt"

// NotConnectedError is returned by tool operations against a server that is
// not in the Connected state. No network call is made.
type NotConnectedError struct {
	ServerID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("server %s is not connected", e.ServerID)
}
