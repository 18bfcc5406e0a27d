package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"valentine-link-api/internal/cache"
	"valentine-link-api/internal/database"
	"valentine-link-api/internal/events"
	"valentine-link-api/internal/features"
	"valentine-link-api/internal/models"
	"valentine-link-api/internal/mpesa"
	"valentine-link-api/internal/validation"
)

const testRecipient = "ANDREW MUSILI"

var nairobi = time.FixedZone("EAT", 3*60*60)

// 14/2/2026 08:40 EAT, twelve minutes after the test message's timestamp.
var testNow = time.Date(2026, 2, 14, 8, 40, 0, 0, nairobi)

const testMessage = "UBEG76GMIO Confirmed. Ksh250.00 sent to ANDREW MUSILI on 14/2/26 at 8:28 AM"

func setupTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()
	dbPath := "./test_svc_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})

	parser := mpesa.NewParser(testRecipient, nairobi)
	validator := mpesa.NewValidator(parser, db.CodeInUse)
	svc := NewService(db, validator, events.NewManager(false), cache.NewInMemoryCache(), features.NewManager())
	return svc, db
}

func createTestValentine(t *testing.T, svc *Service, req models.CreateValentineRequest) models.CreateValentineResponse {
	t.Helper()
	if req.RecipientName == "" {
		req.RecipientName = "Wanjiku"
	}
	if req.SenderName == "" {
		req.SenderName = "Brian"
	}
	if req.Message == "" {
		req.Message = "Happy Valentine's Day!"
	}

	resp, err := svc.CreateValentine(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateValentine failed: %v", err)
	}
	return resp
}

func TestCreateValentine(t *testing.T) {
	svc, _ := setupTestService(t)

	resp := createTestValentine(t, svc, models.CreateValentineRequest{
		RecipientName: "Wanjiku Kamau",
		SenderName:    "Brian Otieno",
	})

	if !strings.HasPrefix(resp.Slug, "brian-otieno-loves-wanjiku-kamau-") {
		t.Errorf("Unexpected slug %q", resp.Slug)
	}
	if len(resp.ManagementToken) != 12 {
		t.Errorf("Expected a 12-character management token, got %q", resp.ManagementToken)
	}
	if resp.Link != "/d/"+resp.Slug {
		t.Errorf("Unexpected link %q", resp.Link)
	}
}

func TestCreateValentine_Invalid(t *testing.T) {
	svc, _ := setupTestService(t)

	_, err := svc.CreateValentine(context.Background(), models.CreateValentineRequest{
		SenderName: "Brian",
		Message:    "hi",
	})

	var validationErr *validation.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected a validation error, got %v", err)
	}
	if validationErr.Field != "recipient_name" {
		t.Errorf("Expected recipient_name error, got %s", validationErr.Field)
	}
}

func TestGetValentine_UnpaidRequiresPayment(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{})

	_, err := svc.GetValentine(context.Background(), resp.Slug, "")
	if !errors.Is(err, ErrPaymentRequired) {
		t.Errorf("Expected ErrPaymentRequired, got %v", err)
	}
}

func TestGetValentine_OwnerPreviewsUnpaid(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{})

	view, err := svc.GetValentine(context.Background(), resp.Slug, resp.ManagementToken)
	if err != nil {
		t.Fatalf("Owner preview failed: %v", err)
	}
	if view.IsPaid {
		t.Error("Preview should still show the record as unpaid")
	}
	if view.ViewsCount != 1 {
		t.Errorf("Expected the view counter to tick, got %d", view.ViewsCount)
	}
}

func TestGetValentine_ProtectedComesBackLocked(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{
		Message:            "my secret message",
		MusicLink:          "https://example.com/song",
		ProtectionQuestion: "Where did we meet?",
		ProtectionAnswer:   "Nairobi",
	})

	view, err := svc.GetValentine(context.Background(), resp.Slug, resp.ManagementToken)
	if err != nil {
		t.Fatalf("GetValentine failed: %v", err)
	}
	if !view.IsLocked {
		t.Fatal("Expected a locked view")
	}
	if view.Message != "Locked by secret question" {
		t.Errorf("Locked view leaked the message: %q", view.Message)
	}
	if view.MusicLink != "" {
		t.Error("Locked view leaked the music link")
	}
}

func TestUnlock(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{
		Message:            "my secret message",
		ProtectionQuestion: "Where did we meet?",
		ProtectionAnswer:   "Nairobi",
	})

	_, err := svc.Unlock(context.Background(), resp.Slug, "Mombasa")
	if !errors.Is(err, ErrWrongAnswer) {
		t.Fatalf("Expected ErrWrongAnswer, got %v", err)
	}

	// Answers are compared trimmed and case-insensitively.
	view, err := svc.Unlock(context.Background(), resp.Slug, "  NAIROBI ")
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if view.IsLocked {
		t.Error("Expected an unlocked view")
	}
	if view.Message != "my secret message" {
		t.Errorf("Expected the full message, got %q", view.Message)
	}
}

func TestSubmitManualPayment_FullMessage(t *testing.T) {
	svc, db := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{})

	verdict, err := svc.SubmitManualPayment(context.Background(), resp.Slug, testMessage, testNow)
	if err != nil {
		t.Fatalf("SubmitManualPayment failed: %v", err)
	}
	if !verdict.Accepted {
		t.Fatalf("Expected acceptance, got %s: %s", verdict.Reason, verdict.Message)
	}

	v, err := db.GetBySlug(context.Background(), resp.Slug)
	if err != nil {
		t.Fatalf("GetBySlug failed: %v", err)
	}
	if !v.IsPaid || !v.IsPendingVerification {
		t.Error("Expected the record to be paid and flagged for verification")
	}
	if v.MpesaCode != "UBEG76GMIO" {
		t.Errorf("Expected code UBEG76GMIO, got %s", v.MpesaCode)
	}
	if v.AmountPaid.String() != "250" {
		t.Errorf("Expected amount 250, got %s", v.AmountPaid)
	}
}

func TestSubmitManualPayment_PremiumTemplateNeedsMore(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{
		Template: models.TemplatePoem,
	})

	verdict, err := svc.SubmitManualPayment(context.Background(), resp.Slug, testMessage, testNow)
	if err != nil {
		t.Fatalf("SubmitManualPayment failed: %v", err)
	}
	if verdict.Reason != mpesa.ReasonAmountInsufficient {
		t.Errorf("Expected amount_insufficient for the poem tier, got %s", verdict.Reason)
	}
}

func TestSubmitManualPayment_DuplicateAcrossRecords(t *testing.T) {
	svc, _ := setupTestService(t)
	first := createTestValentine(t, svc, models.CreateValentineRequest{})
	second := createTestValentine(t, svc, models.CreateValentineRequest{})

	verdict, err := svc.SubmitManualPayment(context.Background(), first.Slug, testMessage, testNow)
	if err != nil || !verdict.Accepted {
		t.Fatalf("First submission should pass: %v %+v", err, verdict)
	}

	verdict, err = svc.SubmitManualPayment(context.Background(), second.Slug, testMessage, testNow)
	if err != nil {
		t.Fatalf("SubmitManualPayment failed: %v", err)
	}
	if verdict.Reason != mpesa.ReasonDuplicateCode {
		t.Errorf("Expected duplicate_code, got %s", verdict.Reason)
	}

	// Resubmitting for the record that owns the code is an allowed update.
	verdict, err = svc.SubmitManualPayment(context.Background(), first.Slug, testMessage, testNow)
	if err != nil {
		t.Fatalf("SubmitManualPayment failed: %v", err)
	}
	if !verdict.Accepted {
		t.Errorf("Expected resubmission for the same record to pass, got %s", verdict.Reason)
	}
}

func TestSubmitManualPayment_BareCode(t *testing.T) {
	svc, db := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{})

	verdict, err := svc.SubmitManualPayment(context.Background(), resp.Slug, "sbn8sdf92x", testNow)
	if err != nil {
		t.Fatalf("SubmitManualPayment failed: %v", err)
	}
	if !verdict.Accepted {
		t.Fatalf("Expected bare-code acceptance, got %s", verdict.Reason)
	}

	v, err := db.GetBySlug(context.Background(), resp.Slug)
	if err != nil {
		t.Fatalf("GetBySlug failed: %v", err)
	}
	if v.MpesaCode != "SBN8SDF92X" {
		t.Errorf("Expected uppercased code, got %s", v.MpesaCode)
	}
}

func TestSubmitManualPayment_TooShortCode(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{})

	_, err := svc.SubmitManualPayment(context.Background(), resp.Slug, "AB12", testNow)
	var validationErr *validation.ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("Expected a validation error for a too-short code, got %v", err)
	}
}

func TestSubmitManualPayment_UnknownSlug(t *testing.T) {
	svc, _ := setupTestService(t)

	_, err := svc.SubmitManualPayment(context.Background(), "no-such-slug", testMessage, testNow)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRespond_ProtectedNeedsAnswer(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{
		ProtectionQuestion: "Where did we meet?",
		ProtectionAnswer:   "Nairobi",
	})

	_, err := svc.Respond(context.Background(), resp.Slug, models.RespondRequest{
		Accepted:         true,
		ProtectionAnswer: "wrong",
	})
	if !errors.Is(err, ErrWrongAnswer) {
		t.Fatalf("Expected ErrWrongAnswer, got %v", err)
	}

	v, err := svc.Respond(context.Background(), resp.Slug, models.RespondRequest{
		Accepted:         true,
		ProtectionAnswer: "nairobi",
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !v.IsAccepted || v.AcceptedAt == nil {
		t.Error("Expected the valentine to be marked accepted")
	}
}

func TestRevealSecretAnswer(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{
		ProtectionQuestion: "Where did we meet?",
		ProtectionAnswer:   "Nairobi",
	})

	answer, err := svc.RevealSecretAnswer(context.Background(), resp.Slug, "QFC1234XYZ")
	if err != nil {
		t.Fatalf("RevealSecretAnswer failed: %v", err)
	}
	if answer != "Nairobi" {
		t.Errorf("Expected the secret answer, got %q", answer)
	}
}

func TestRevealSecretAnswer_MessageNeedsConfirmed(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{
		ProtectionAnswer: "Nairobi", ProtectionQuestion: "Where?",
	})

	_, err := svc.RevealSecretAnswer(context.Background(), resp.Slug,
		"hello there this is a long message without the magic word")
	var validationErr *validation.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected a validation error, got %v", err)
	}

	// The weaker reveal gate only needs the CONFIRMED substring and a code.
	answer, err := svc.RevealSecretAnswer(context.Background(), resp.Slug, testMessage)
	if err != nil {
		t.Fatalf("RevealSecretAnswer failed: %v", err)
	}
	if answer != "Nairobi" {
		t.Errorf("Expected the secret answer, got %q", answer)
	}
}

func TestWall_ReturnsOnlyPaid(t *testing.T) {
	svc, _ := setupTestService(t)
	paid := createTestValentine(t, svc, models.CreateValentineRequest{})
	createTestValentine(t, svc, models.CreateValentineRequest{})

	verdict, err := svc.SubmitManualPayment(context.Background(), paid.Slug, testMessage, testNow)
	if err != nil || !verdict.Accepted {
		t.Fatalf("Payment should pass: %v %+v", err, verdict)
	}

	entries, err := svc.Wall(context.Background(), 10)
	if err != nil {
		t.Fatalf("Wall failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Slug != paid.Slug {
		t.Errorf("Expected slug %s, got %s", paid.Slug, entries[0].Slug)
	}
}

func TestWall_FreshAfterPayment(t *testing.T) {
	svc, _ := setupTestService(t)
	first := createTestValentine(t, svc, models.CreateValentineRequest{})
	second := createTestValentine(t, svc, models.CreateValentineRequest{})

	verdict, err := svc.SubmitManualPayment(context.Background(), first.Slug, testMessage, testNow)
	if err != nil || !verdict.Accepted {
		t.Fatalf("Payment should pass: %v %+v", err, verdict)
	}

	// Prime the cache, then pay the second valentine.
	if _, err := svc.Wall(context.Background(), 10); err != nil {
		t.Fatalf("Wall failed: %v", err)
	}
	verdict, err = svc.SubmitManualPayment(context.Background(), second.Slug, "sbn8sdf92x", testNow)
	if err != nil || !verdict.Accepted {
		t.Fatalf("Second payment should pass: %v %+v", err, verdict)
	}

	entries, err := svc.Wall(context.Background(), 10)
	if err != nil {
		t.Fatalf("Wall failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected the wall to reflect the new payment, got %d entries", len(entries))
	}
}

func TestWall_FeatureDisabled(t *testing.T) {
	svc, _ := setupTestService(t)
	svc.flags.Disable(features.Wall)

	_, err := svc.Wall(context.Background(), 10)
	if !errors.Is(err, ErrFeatureDisabled) {
		t.Errorf("Expected ErrFeatureDisabled, got %v", err)
	}
}

func TestStats(t *testing.T) {
	svc, _ := setupTestService(t)
	createTestValentine(t, svc, models.CreateValentineRequest{})

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalValentines != 1 {
		t.Errorf("Expected 1 valentine, got %d", stats.TotalValentines)
	}
}

func TestManage(t *testing.T) {
	svc, _ := setupTestService(t)
	resp := createTestValentine(t, svc, models.CreateValentineRequest{})

	v, err := svc.Manage(context.Background(), resp.ManagementToken)
	if err != nil {
		t.Fatalf("Manage failed: %v", err)
	}
	if v.Slug != resp.Slug {
		t.Errorf("Expected slug %s, got %s", resp.Slug, v.Slug)
	}

	_, err = svc.Manage(context.Background(), "bogus-token")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Brian Otieno", "brian-otieno"},
		{"  spaced  out  ", "spaced-out"},
		{"O'Neil & Sons", "o-neil-sons"},
		{"MixedCASE42", "mixedcase42"},
	}

	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
