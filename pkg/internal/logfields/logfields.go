package logfields

import (
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"

	"github.com/sirupsen/logrus"
)

const (
	TicketKey  = "ticket"
	VersionKey = "version"
	CallKey    = "rpc"
	AttemptKey = "attempt"
)

func Ticket(ticket contracts.ScriptTicket) logrus.Fields {
	return logrus.Fields{TicketKey: ticket.String()}
}

// Call names a single remote operation, eg: ScriptServiceV2.GetStatus.
func Call(service, name string) logrus.Fields {
	return logrus.Fields{CallKey: service + "." + name}
}
