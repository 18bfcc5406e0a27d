package mpesa

import "github.com/shopspring/decimal"

// Reason identifies why a submission was rejected. Accepted verdicts carry
// an empty reason.
type Reason string

const (
	ReasonEmptyInput         Reason = "empty_input"
	ReasonMissingCode        Reason = "missing_code"
	ReasonMissingAmount      Reason = "missing_amount"
	ReasonMissingDateTime    Reason = "missing_datetime"
	ReasonRecipientMismatch  Reason = "recipient_mismatch"
	ReasonAmountInsufficient Reason = "amount_insufficient"
	ReasonTooOld             Reason = "too_old"
	ReasonTooFarInFuture     Reason = "too_far_in_future"
	ReasonDuplicateCode      Reason = "duplicate_code"
)

// Verdict is the outcome of validating a payment submission.
//
// Code is the normalized transaction code; once a verdict is accepted this
// is the value the caller must persist so future submissions of the same
// code are rejected as duplicates. Amount is only set on the full-message
// path (bare codes carry no amount).
type Verdict struct {
	Accepted bool            `json:"accepted"`
	Reason   Reason          `json:"reason,omitempty"`
	Message  string          `json:"message"`
	Code     string          `json:"code,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

func reject(reason Reason, message string) Verdict {
	return Verdict{Reason: reason, Message: message}
}
