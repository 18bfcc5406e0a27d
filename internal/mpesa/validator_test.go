package mpesa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fixed "now" in the same zone the test parser uses: 14/2/2026 08:40 EAT.
var testNow = time.Date(2026, 2, 14, 8, 40, 0, 0, nairobi)

const testMessage = "UBEG76GMIO Confirmed. Ksh250.00 sent to ANDREW MUSILI on 14/2/26 at 8:28 AM"

func noUsedCodes(ctx context.Context, code, excludeID string) (bool, error) {
	return false, nil
}

func newTestValidator(lookup CodeLookupFunc) *Validator {
	return NewValidator(newTestParser(), lookup)
}

func TestValidate_AcceptsValidMessage(t *testing.T) {
	v := newTestValidator(noUsedCodes)

	verdict, err := v.Validate(context.Background(), testMessage, CategoryBasic, "", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if !verdict.Accepted {
		t.Fatalf("Expected acceptance, got %s: %s", verdict.Reason, verdict.Message)
	}
	if verdict.Code != "UBEG76GMIO" {
		t.Errorf("Expected code UBEG76GMIO, got %s", verdict.Code)
	}
	if !verdict.Amount.Equal(DefaultPrices()[CategoryBasic]) {
		t.Errorf("Expected amount 250, got %s", verdict.Amount)
	}
}

func TestValidate_EmptyInput(t *testing.T) {
	v := newTestValidator(noUsedCodes)

	for _, raw := range []string{"", "   ", "\n\t"} {
		verdict, err := v.Validate(context.Background(), raw, CategoryBasic, "", testNow)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if verdict.Accepted || verdict.Reason != ReasonEmptyInput {
			t.Errorf("Expected empty_input for %q, got %s", raw, verdict.Reason)
		}
	}
}

func TestValidate_BareCodeSkipsParsing(t *testing.T) {
	var lookedUp string
	lookup := func(ctx context.Context, code, excludeID string) (bool, error) {
		lookedUp = code
		return false, nil
	}
	v := newTestValidator(lookup)

	verdict, err := v.Validate(context.Background(), "abc123xyz0", CategoryPoem, "", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if !verdict.Accepted {
		t.Fatalf("Expected bare code acceptance, got %s", verdict.Reason)
	}
	if verdict.Code != "ABC123XYZ0" {
		t.Errorf("Expected uppercased code ABC123XYZ0, got %s", verdict.Code)
	}
	if lookedUp != "ABC123XYZ0" {
		t.Errorf("Duplicate check should see the normalized code, saw %q", lookedUp)
	}
	if !verdict.Amount.IsZero() {
		t.Errorf("Bare codes carry no amount, got %s", verdict.Amount)
	}
}

func TestValidate_ShapeDetection(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		bareCode bool
	}{
		{"short no space", "ABC123XYZ0", true},
		{"short with space is a message", "ABC 123", false},
		{"fifteen chars is a message", "ABCDEFGHIJKLMNO", false},
	}

	v := newTestValidator(noUsedCodes)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := v.Validate(context.Background(), tt.raw, CategoryBasic, "", testNow)
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if tt.bareCode && !verdict.Accepted {
				t.Errorf("Expected bare-code acceptance, got %s", verdict.Reason)
			}
			if !tt.bareCode && verdict.Accepted {
				t.Error("Expected the full-message path to reject this input")
			}
		})
	}
}

func TestValidate_RecipientMismatch(t *testing.T) {
	v := newTestValidator(noUsedCodes)

	raw := "UBEG76GMIO Confirmed. Ksh250.00 sent to JANE DOE on 14/2/26 at 8:28 AM"
	verdict, err := v.Validate(context.Background(), raw, CategoryBasic, "", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if verdict.Reason != ReasonRecipientMismatch {
		t.Fatalf("Expected recipient_mismatch, got %s", verdict.Reason)
	}
	if !strings.Contains(verdict.Message, testRecipient) {
		t.Errorf("Rejection should name the expected recipient, got %q", verdict.Message)
	}
}

func TestValidate_AmountInsufficient(t *testing.T) {
	v := newTestValidator(noUsedCodes)

	// 250 paid, poem tier requires 500.
	verdict, err := v.Validate(context.Background(), testMessage, CategoryPoem, "", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if verdict.Reason != ReasonAmountInsufficient {
		t.Fatalf("Expected amount_insufficient, got %s", verdict.Reason)
	}
	if !strings.Contains(verdict.Message, "500") || !strings.Contains(verdict.Message, "250") {
		t.Errorf("Rejection should cite required and observed amounts, got %q", verdict.Message)
	}
}

func TestValidate_UnknownCategoryUsesBasicTier(t *testing.T) {
	v := newTestValidator(noUsedCodes)

	verdict, err := v.Validate(context.Background(), testMessage, Category("sticker"), "", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !verdict.Accepted {
		t.Errorf("Ksh250 should satisfy the basic-tier fallback, got %s", verdict.Reason)
	}
}

func TestValidate_RecencyBounds(t *testing.T) {
	// Message timestamp is 8:28 AM; move "now" around it.
	tests := []struct {
		name   string
		now    time.Time
		reason Reason
		accept bool
	}{
		{"twenty-four minutes later", time.Date(2026, 2, 14, 8, 52, 0, 0, nairobi), "", true},
		{"exactly twenty-five minutes later", time.Date(2026, 2, 14, 8, 53, 0, 0, nairobi), "", true},
		{"twenty-five minutes one second later", time.Date(2026, 2, 14, 8, 53, 1, 0, nairobi), ReasonTooOld, false},
		{"five minutes early", time.Date(2026, 2, 14, 8, 23, 0, 0, nairobi), "", true},
		{"six minutes early", time.Date(2026, 2, 14, 8, 21, 59, 0, nairobi), ReasonTooFarInFuture, false},
	}

	v := newTestValidator(noUsedCodes)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := v.Validate(context.Background(), testMessage, CategoryBasic, "", tt.now)
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if verdict.Accepted != tt.accept {
				t.Fatalf("Expected accepted=%v, got %v (%s)", tt.accept, verdict.Accepted, verdict.Reason)
			}
			if !tt.accept && verdict.Reason != tt.reason {
				t.Errorf("Expected reason %s, got %s", tt.reason, verdict.Reason)
			}
		})
	}
}

func TestValidate_DuplicateCode(t *testing.T) {
	lookup := func(ctx context.Context, code, excludeID string) (bool, error) {
		// The code is bound to record "other"; only that record may reuse it.
		return excludeID != "other", nil
	}
	v := newTestValidator(lookup)

	verdict, err := v.Validate(context.Background(), testMessage, CategoryBasic, "mine", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if verdict.Reason != ReasonDuplicateCode {
		t.Fatalf("Expected duplicate_code, got %s", verdict.Reason)
	}

	// Resubmitting for the record that owns the code is allowed.
	verdict, err = v.Validate(context.Background(), testMessage, CategoryBasic, "other", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !verdict.Accepted {
		t.Errorf("Expected resubmission for the owning record to pass, got %s", verdict.Reason)
	}
}

func TestValidate_DuplicateCheckGatesBareCodes(t *testing.T) {
	lookup := func(ctx context.Context, code, excludeID string) (bool, error) {
		return true, nil
	}
	v := newTestValidator(lookup)

	verdict, err := v.Validate(context.Background(), "ABC123XYZ0", CategoryBasic, "", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if verdict.Reason != ReasonDuplicateCode {
		t.Errorf("Expected duplicate_code on the bare-code path, got %s", verdict.Reason)
	}
}

func TestValidate_ParseFailureSurfacesReason(t *testing.T) {
	v := newTestValidator(noUsedCodes)

	verdict, err := v.Validate(context.Background(), "thanks for the payment, see you soon", CategoryBasic, "", testNow)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if verdict.Reason != ReasonMissingCode {
		t.Errorf("Expected missing_code, got %s", verdict.Reason)
	}
}

func TestValidate_LookupErrorIsReturned(t *testing.T) {
	lookupErr := errors.New("store offline")
	lookup := func(ctx context.Context, code, excludeID string) (bool, error) {
		return false, lookupErr
	}
	v := newTestValidator(lookup)

	_, err := v.Validate(context.Background(), "ABC123XYZ0", CategoryBasic, "", testNow)
	if !errors.Is(err, lookupErr) {
		t.Errorf("Expected the lookup error to be wrapped, got %v", err)
	}
}
