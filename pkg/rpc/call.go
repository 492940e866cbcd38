package rpc

import "context"

// Call identifies one remote operation.
type Call struct {
	Service string
	Name    string
}

func (c Call) String() string {
	return c.Service + "." + c.Name
}

// Action performs a single attempt of a Call.
type Action func(ctx context.Context) error
