package metrics

import (
	"context"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/pkg/errors"
)

func isCancelled(err error) bool {
	var cancelled *rpc.CancelledError
	return errors.As(err, &cancelled) || errors.Is(err, context.Canceled)
}
