package gate

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is what the calling module is about to do. The first two gate
// record creation and viewing; the rest are downstream side effects that
// must never proceed for an NHIA patient without a valid code.
type Action string

const (
	ActionCreateRecord     Action = "create_record"
	ActionView             Action = "view"
	ActionGenerateInvoice  Action = "generate_invoice"
	ActionDispense         Action = "dispense"
	ActionStartSurgery     Action = "start_surgery"
	ActionProcessPackOrder Action = "process_pack_order"
)

var knownActions = map[Action]bool{
	ActionCreateRecord:     true,
	ActionView:             true,
	ActionGenerateInvoice:  true,
	ActionDispense:         true,
	ActionStartSurgery:     true,
	ActionProcessPackOrder: true,
}

// sideEffectActions must not proceed for an NHIA patient without a valid
// linked code, even when the underlying record already exists.
var sideEffectActions = map[Action]bool{
	ActionGenerateInvoice:  true,
	ActionDispense:         true,
	ActionStartSurgery:     true,
	ActionProcessPackOrder: true,
}

type Kind string

const (
	Permitted             Kind = "permitted"
	PermittedWithDiscount Kind = "permitted_with_discount"
	BlockedPending        Kind = "blocked_pending"
	BlockedRejected       Kind = "blocked_rejected"
)

// Decision is the gate's answer. It is always a value: business refusals
// are decisions, never errors.
type Decision struct {
	Kind         Kind             `json:"kind"`
	DiscountRate *decimal.Decimal `json:"discount_rate,omitempty"`
	RequestID    *uuid.UUID       `json:"request_id,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

func (d Decision) Allowed() bool {
	return d.Kind == Permitted || d.Kind == PermittedWithDiscount
}

func permitted() Decision { return Decision{Kind: Permitted} }

func permittedWithDiscount(rate decimal.Decimal) Decision {
	return Decision{Kind: PermittedWithDiscount, DiscountRate: &rate}
}

func blockedPending(requestID *uuid.UUID) Decision {
	return Decision{Kind: BlockedPending, RequestID: requestID, Reason: "NHIA Authorization Required"}
}

func blockedRejected(reason string) Decision {
	return Decision{Kind: BlockedRejected, Reason: reason}
}
