package mpesa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMaxAge is how old a transaction timestamp may be.
	DefaultMaxAge = 25 * time.Minute
	// DefaultMaxSkew is how far into the future a timestamp may sit,
	// absorbing clock drift between the provider and this server.
	DefaultMaxSkew = 5 * time.Minute

	// bareCodeMaxLen splits the two submission shapes: anything shorter,
	// with no whitespace, is treated as a bare transaction code.
	bareCodeMaxLen = 15
)

// CodeLookupFunc reports whether code is already bound to a record other
// than excludeID. The backing store is expected to enforce uniqueness on
// save as well, so two racing submissions of one code cannot both stick.
type CodeLookupFunc func(ctx context.Context, code, excludeID string) (bool, error)

// ValidatorOptions holds tunables for the validator.
type ValidatorOptions struct {
	MaxAge  time.Duration
	MaxSkew time.Duration
	Prices  PriceTable
}

// DefaultValidatorOptions returns the standard windows and price tiers.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		MaxAge:  DefaultMaxAge,
		MaxSkew: DefaultMaxSkew,
		Prices:  DefaultPrices(),
	}
}

// Validator decides whether a payment submission can be trusted. It holds
// no mutable state; the only collaborator is the injected duplicate lookup.
type Validator struct {
	parser  *Parser
	lookup  CodeLookupFunc
	prices  PriceTable
	maxAge  time.Duration
	maxSkew time.Duration
}

// NewValidator creates a validator with default options.
func NewValidator(parser *Parser, lookup CodeLookupFunc) *Validator {
	return NewValidatorWithOptions(parser, lookup, DefaultValidatorOptions())
}

// NewValidatorWithOptions creates a validator with custom options.
func NewValidatorWithOptions(parser *Parser, lookup CodeLookupFunc, opts ValidatorOptions) *Validator {
	return &Validator{
		parser:  parser,
		lookup:  lookup,
		prices:  opts.Prices,
		maxAge:  opts.MaxAge,
		maxSkew: opts.MaxSkew,
	}
}

// Validate runs the full decision for one submission. Short inputs without
// whitespace are taken as bare transaction codes and only duplicate-checked;
// everything else must parse as a full confirmation message and then pass
// the recipient, amount and recency rules in that order. The first failing
// rule decides the verdict. excludeID names the record being paid for, so
// resubmitting a code for the same record is not a duplicate. now is read
// once by the caller so both recency bounds use the same instant.
//
// A non-nil error means the duplicate lookup itself failed; every other
// outcome, accepted or not, is expressed in the Verdict.
func (v *Validator) Validate(ctx context.Context, raw string, category Category, excludeID string, now time.Time) (Verdict, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return reject(ReasonEmptyInput, "an M-Pesa confirmation code or message is required"), nil
	}

	if len(trimmed) < bareCodeMaxLen && !strings.ContainsAny(trimmed, " \t") {
		return v.finish(ctx, Verdict{Code: strings.ToUpper(trimmed)}, excludeID)
	}

	txn, err := v.parser.Parse(raw)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return reject(parseErr.Reason, parseErr.Error()), nil
		}
		return Verdict{}, err
	}

	if !txn.RecipientMatched {
		return reject(ReasonRecipientMismatch,
			fmt.Sprintf("this payment was not sent to %s", v.parser.recipient)), nil
	}

	required := v.prices.For(category)
	if txn.Amount.LessThan(required) {
		return reject(ReasonAmountInsufficient,
			fmt.Sprintf("Ksh%s is required but only Ksh%s was paid", required, txn.Amount)), nil
	}

	if now.Sub(txn.OccurredAt) > v.maxAge {
		return reject(ReasonTooOld,
			fmt.Sprintf("this transaction is too old; payments must be under %d minutes old", int(v.maxAge.Minutes()))), nil
	}

	if txn.OccurredAt.Sub(now) > v.maxSkew {
		return reject(ReasonTooFarInFuture, "this transaction is timestamped in the future"), nil
	}

	return v.finish(ctx, Verdict{Code: txn.Code, Amount: txn.Amount}, excludeID)
}

// finish runs the duplicate check, the last gate for both submission
// shapes, and promotes the verdict to accepted when the code is unused.
func (v *Validator) finish(ctx context.Context, verdict Verdict, excludeID string) (Verdict, error) {
	used, err := v.lookup(ctx, verdict.Code, excludeID)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to check code for reuse: %w", err)
	}
	if used {
		return reject(ReasonDuplicateCode, "this code has already been used"), nil
	}

	verdict.Accepted = true
	verdict.Message = "payment confirmed"
	return verdict, nil
}
