package model

import (
	"github.com/pulseapm/pulse-go/pkg/timer"
)

// Transaction is the root timed unit of one logical request. It owns
// the outcome and context; spans point back at it through
// TransactionID. At most one transaction is active per agent.
type Transaction struct {
	timer.Timer

	ID      string
	TraceID string
	Name    string
	Type    string
	Result  string
	Context *Context
}
