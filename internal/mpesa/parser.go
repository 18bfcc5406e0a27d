package mpesa

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	codeAnchoredRegex = regexp.MustCompile(`^([A-Z0-9]{10})\s*Confirmed\.`)
	codeAnywhereRegex = regexp.MustCompile(`[A-Z0-9]{10}`)
	amountRegex       = regexp.MustCompile(`Ksh([0-9,]+(?:\.[0-9]+)?)`)
	dateTimeRegex     = regexp.MustCompile(`on (\d{1,2})/(\d{1,2})/(\d{2,4}) at (\d{1,2}):(\d{2}) (AM|PM)`)
)

// ParsedTransaction is the structured form of a pasted M-Pesa confirmation
// message. It is only built when the code, amount and timestamp were all
// extracted; a partially readable message yields a ParseError instead.
type ParsedTransaction struct {
	Code             string
	Amount           decimal.Decimal
	OccurredAt       time.Time
	RecipientMatched bool
}

// ParseError reports which part of a confirmation message could not be
// extracted.
type ParseError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser extracts transaction details from M-Pesa confirmation messages.
// It performs no I/O and is safe for concurrent use.
type Parser struct {
	recipient string
	location  *time.Location
}

// NewParser creates a parser that matches payments sent to the given
// recipient name and interprets message timestamps in the given zone.
func NewParser(recipient string, location *time.Location) *Parser {
	if location == nil {
		location = time.UTC
	}
	return &Parser{recipient: recipient, location: location}
}

// Parse extracts a ParsedTransaction from raw message text. All runs of
// whitespace are collapsed first so line breaks inserted by phones or chat
// apps do not break the patterns.
func (p *Parser) Parse(raw string) (ParsedTransaction, error) {
	normalized := strings.TrimSpace(whitespaceRegex.ReplaceAllString(raw, " "))

	code, err := extractCode(normalized)
	if err != nil {
		return ParsedTransaction{}, err
	}

	amount, err := extractAmount(normalized)
	if err != nil {
		return ParsedTransaction{}, err
	}

	occurredAt, err := p.extractDateTime(normalized)
	if err != nil {
		return ParsedTransaction{}, err
	}

	return ParsedTransaction{
		Code:             code,
		Amount:           amount,
		OccurredAt:       occurredAt,
		RecipientMatched: p.recipientMatches(raw),
	}, nil
}

// FindCode returns the first transaction code in raw text, if any. It is
// used by callers that only need the code, not a full parse.
func FindCode(raw string) (string, bool) {
	normalized := strings.TrimSpace(whitespaceRegex.ReplaceAllString(raw, " "))
	code, err := extractCode(normalized)
	if err != nil {
		return "", false
	}
	return code, true
}

// extractCode finds the ten-character transaction code. The anchored form
// ("XXXXXXXXXX Confirmed.") is preferred; if the message was reformatted we
// fall back to the first ten-character uppercase alphanumeric run anywhere.
func extractCode(normalized string) (string, error) {
	if m := codeAnchoredRegex.FindStringSubmatch(normalized); m != nil {
		return m[1], nil
	}
	if m := codeAnywhereRegex.FindString(normalized); m != "" {
		return m, nil
	}
	return "", &ParseError{
		Reason:  ReasonMissingCode,
		Message: "could not find an M-Pesa confirmation code in the message",
	}
}

// extractAmount finds the "Ksh" marker and parses the number after it,
// dropping comma thousands-separators ("Ksh1,200.50" -> 1200.50).
func extractAmount(normalized string) (decimal.Decimal, error) {
	m := amountRegex.FindStringSubmatch(normalized)
	if m == nil {
		return decimal.Decimal{}, &ParseError{
			Reason:  ReasonMissingAmount,
			Message: "could not find a Ksh amount in the message",
		}
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Decimal{}, &ParseError{
			Reason:  ReasonMissingAmount,
			Message: "could not read the Ksh amount in the message",
			Err:     err,
		}
	}

	return amount, nil
}

// extractDateTime finds the "on d/m/y at h:mm AM" pattern and combines it
// into a timestamp in the parser's zone. Two-digit years are read as the
// current century.
func (p *Parser) extractDateTime(normalized string) (time.Time, error) {
	m := dateTimeRegex.FindStringSubmatch(normalized)
	if m == nil {
		return time.Time{}, &ParseError{
			Reason:  ReasonMissingDateTime,
			Message: "could not find a date and time in the message",
		}
	}

	day, month, year := m[1], m[2], m[3]
	if len(year) == 2 {
		year = "20" + year
	}

	// Reassembling and re-parsing lets the time package reject impossible
	// calendar dates (32/13, 13:05 PM) instead of silently normalizing them.
	stamp := fmt.Sprintf("%s/%s/%s %s:%s %s", day, month, year, m[4], m[5], m[6])
	occurredAt, err := time.ParseInLocation("2/1/2006 3:04 PM", stamp, p.location)
	if err != nil {
		return time.Time{}, &ParseError{
			Reason:  ReasonMissingDateTime,
			Message: "the date and time in the message are not valid",
			Err:     err,
		}
	}

	return occurredAt, nil
}

// recipientMatches checks the expected recipient name against the original
// (un-normalized) message, case-insensitively. A miss never fails parsing.
func (p *Parser) recipientMatches(raw string) bool {
	if p.recipient == "" {
		return false
	}
	return strings.Contains(strings.ToLower(raw), strings.ToLower(p.recipient))
}
