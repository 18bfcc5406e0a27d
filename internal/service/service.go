package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
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

var (
	// ErrNotFound means no valentine matches the slug or token.
	ErrNotFound = errors.New("valentine not found")
	// ErrPaymentRequired means the valentine exists but has not been paid
	// for, and the caller is not the owner.
	ErrPaymentRequired = errors.New("this valentine has not been published yet")
	// ErrWrongAnswer means the secret-question answer did not match.
	ErrWrongAnswer = errors.New("that's not the right answer")
	// ErrFeatureDisabled means the endpoint is switched off.
	ErrFeatureDisabled = errors.New("this feature is currently disabled")
)

// bareCodeMinLen mirrors the original product's guard against obvious
// typos: a bare code shorter than this is rejected before the engine runs,
// keeping the engine contract unchanged.
const bareCodeMinLen = 8

const (
	defaultWallLimit = 10
	maxWallLimit     = 100
)

// Service provides business logic for the valentine API.
type Service struct {
	db        *database.DB
	validator *mpesa.Validator
	events    *events.Manager
	cache     cache.Cache
	flags     *features.Manager
}

// NewService creates a new service instance.
func NewService(db *database.DB, validator *mpesa.Validator, ev *events.Manager, c cache.Cache, flags *features.Manager) *Service {
	if c == nil {
		c = cache.NewInMemoryCache()
	}
	if ev == nil {
		ev = events.NewManager(false)
	}
	if flags == nil {
		flags = features.NewManager()
	}
	return &Service{db: db, validator: validator, events: ev, cache: c, flags: flags}
}

// CreateValentine validates and stores a new valentine, returning the share
// link and the secret management token.
func (s *Service) CreateValentine(ctx context.Context, req models.CreateValentineRequest) (models.CreateValentineResponse, error) {
	if err := validation.ValidateCreateRequest(req); err != nil {
		return models.CreateValentineResponse{}, err
	}

	if req.Theme == "" {
		req.Theme = models.ThemeClassic
	}
	if req.Template == "" {
		req.Template = models.TemplateClassic
	}

	slug, err := s.uniqueSlug(ctx, req.SenderName, req.RecipientName)
	if err != nil {
		return models.CreateValentineResponse{}, err
	}

	v := models.Valentine{
		ID:                 uuid.New().String(),
		Slug:               slug,
		RecipientName:      req.RecipientName,
		SenderName:         req.SenderName,
		SenderLocation:     req.SenderLocation,
		Title:              req.Title,
		Message:            req.Message,
		Theme:              req.Theme,
		Template:           req.Template,
		MusicLink:          req.MusicLink,
		ImageURL:           req.ImageURL,
		ProtectionQuestion: req.ProtectionQuestion,
		ProtectionAnswer:   req.ProtectionAnswer,
		ManagementToken:    uuid.New().String()[:12],
	}

	if err := s.db.CreateValentine(ctx, v); err != nil {
		return models.CreateValentineResponse{}, err
	}

	s.events.PublishValentineCreated(ctx, v.Slug, string(v.Template))
	s.invalidateCaches(ctx)

	return models.CreateValentineResponse{
		Slug:            v.Slug,
		ManagementToken: v.ManagementToken,
		RecipientName:   v.RecipientName,
		Link:            "/d/" + v.Slug,
		ManageLink:      "/manage/" + v.ManagementToken,
	}, nil
}

// GetValentine returns the view behind a share link. Unpaid valentines are
// only visible to the owner (identified by the management token); protected
// valentines come back locked until the secret question is answered.
func (s *Service) GetValentine(ctx context.Context, slug, managementToken string) (models.ValentineView, error) {
	v, err := s.getBySlug(ctx, slug)
	if err != nil {
		return models.ValentineView{}, err
	}

	isOwner := managementToken != "" && managementToken == v.ManagementToken
	if !v.IsPaid && !isOwner {
		return models.ValentineView{}, ErrPaymentRequired
	}

	if err := s.db.IncrementViews(ctx, v.ID); err != nil {
		log.Printf("Failed to increment views for %s: %v", v.Slug, err)
	} else {
		v.ViewsCount++
	}

	return lockedView(v), nil
}

// Unlock checks the secret-question answer and returns the full view.
func (s *Service) Unlock(ctx context.Context, slug, answer string) (models.ValentineView, error) {
	v, err := s.getBySlug(ctx, slug)
	if err != nil {
		return models.ValentineView{}, err
	}

	if !answersMatch(answer, v.ProtectionAnswer) {
		return models.ValentineView{}, ErrWrongAnswer
	}

	return models.ValentineView{Valentine: v, IsLocked: false}, nil
}

// Respond records the recipient's answer. When a secret question is set,
// the answer gates the response as well.
func (s *Service) Respond(ctx context.Context, slug string, req models.RespondRequest) (models.Valentine, error) {
	v, err := s.getBySlug(ctx, slug)
	if err != nil {
		return models.Valentine{}, err
	}

	if v.ProtectionAnswer != "" && !answersMatch(req.ProtectionAnswer, v.ProtectionAnswer) {
		return models.Valentine{}, ErrWrongAnswer
	}

	if req.Accepted {
		now := time.Now().UTC()
		if err := s.db.MarkAccepted(ctx, v.ID, now); err != nil {
			return models.Valentine{}, err
		}
		v.IsAccepted = true
		v.AcceptedAt = &now

		s.events.PublishValentineAccepted(ctx, v.Slug, v.RecipientName)
		s.invalidateCaches(ctx)
	}

	return v, nil
}

// SubmitManualPayment runs a pasted confirmation message or bare code
// through the payment engine and, on acceptance, binds the code to the
// valentine. The record is marked paid immediately and flagged for
// out-of-band verification; that optimistic policy is intentional.
func (s *Service) SubmitManualPayment(ctx context.Context, slug, raw string, now time.Time) (mpesa.Verdict, error) {
	v, err := s.getBySlug(ctx, slug)
	if err != nil {
		return mpesa.Verdict{}, err
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && len(trimmed) < bareCodeMinLen && !strings.ContainsAny(trimmed, " \t") {
		return mpesa.Verdict{}, &validation.ValidationError{
			Field:   "code",
			Message: "enter a valid M-Pesa code (e.g. SBN8SDF92)",
		}
	}

	verdict, err := s.validator.Validate(ctx, raw, categoryForTemplate(v.Template), v.ID, now)
	if err != nil {
		return mpesa.Verdict{}, err
	}
	if !verdict.Accepted {
		return verdict, nil
	}

	if err := s.db.MarkPaid(ctx, v.ID, verdict.Code, verdict.Amount); err != nil {
		// A racing submission may have claimed the code between the lookup
		// and the save; the unique index turns that into a rejection here.
		if errors.Is(err, database.ErrCodeInUse) {
			return mpesa.Verdict{
				Reason:  mpesa.ReasonDuplicateCode,
				Message: "this code has already been used",
			}, nil
		}
		return mpesa.Verdict{}, err
	}

	s.events.PublishPaymentAccepted(ctx, v.Slug, verdict.Code, verdict.Amount)
	s.invalidateCaches(ctx)

	return verdict, nil
}

// RevealSecretAnswer trades a payment code for the secret-question answer.
//
// This path is deliberately weaker than SubmitManualPayment: a bare code
// only needs to be non-empty, and a pasted message only needs to contain
// CONFIRMED. The asymmetry with the unlock-content path comes from the
// original product and is kept as-is.
func (s *Service) RevealSecretAnswer(ctx context.Context, slug, raw string) (string, error) {
	if !s.flags.IsEnabled(features.RevealAnswer) {
		return "", ErrFeatureDisabled
	}

	v, err := s.getBySlug(ctx, slug)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &validation.ValidationError{Field: "code", Message: "is required"}
	}

	code := strings.ToUpper(trimmed)
	if len(trimmed) >= 15 || strings.ContainsAny(trimmed, " \t") {
		if !strings.Contains(code, "CONFIRMED") {
			return "", &validation.ValidationError{
				Field:   "code",
				Message: "this does not look like an M-Pesa confirmation message",
			}
		}
		found, ok := mpesa.FindCode(raw)
		if !ok {
			return "", &validation.ValidationError{
				Field:   "code",
				Message: "could not find an M-Pesa code in the message",
			}
		}
		code = found
	}

	if err := s.db.StoreRevealCode(ctx, v.ID, code); err != nil {
		if errors.Is(err, database.ErrCodeInUse) {
			return "", &validation.ValidationError{
				Field:   "code",
				Message: "this code has already been used",
			}
		}
		return "", err
	}

	return v.ProtectionAnswer, nil
}

// Wall returns recent paid valentines for the Wall of Lovers. The full page
// is cached under one key and sliced to the requested limit, so payment
// invalidation is a single delete.
func (s *Service) Wall(ctx context.Context, limit int) ([]models.WallEntry, error) {
	if !s.flags.IsEnabled(features.Wall) {
		return nil, ErrFeatureDisabled
	}
	if limit <= 0 || limit > maxWallLimit {
		limit = defaultWallLimit
	}

	var entries []models.WallEntry
	if err := cache.GetJSON(ctx, s.cache, cache.WallKey, &entries); err != nil {
		entries, err = s.db.ListRecent(ctx, maxWallLimit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []models.WallEntry{}
		}
		if err := cache.SetJSON(ctx, s.cache, cache.WallKey, entries, cache.WallTTL); err != nil {
			log.Printf("Failed to cache wall: %v", err)
		}
	}

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Stats returns platform-wide counters.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	var cached models.Stats
	if err := cache.GetJSON(ctx, s.cache, cache.StatsKey, &cached); err == nil {
		return cached, nil
	}

	stats, err := s.db.GetStats(ctx)
	if err != nil {
		return models.Stats{}, err
	}

	if err := cache.SetJSON(ctx, s.cache, cache.StatsKey, stats, cache.StatsTTL); err != nil {
		log.Printf("Failed to cache stats: %v", err)
	}

	return stats, nil
}

// Manage returns the full record for the sender holding a management token.
func (s *Service) Manage(ctx context.Context, token string) (models.Valentine, error) {
	v, err := s.db.GetByManagementToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Valentine{}, ErrNotFound
		}
		return models.Valentine{}, err
	}
	return v, nil
}

func (s *Service) getBySlug(ctx context.Context, slug string) (models.Valentine, error) {
	v, err := s.db.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Valentine{}, ErrNotFound
		}
		return models.Valentine{}, err
	}
	return v, nil
}

// uniqueSlug builds "sender-loves-recipient-xxxxxxxx" and retries the random
// suffix until the slug is free.
func (s *Service) uniqueSlug(ctx context.Context, sender, recipient string) (string, error) {
	base := fmt.Sprintf("%s-loves-%s", slugify(sender), slugify(recipient))

	for i := 0; i < 10; i++ {
		candidate := fmt.Sprintf("%s-%s", base, randomSuffix())
		taken, err := s.db.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("failed to generate a unique slug for %s", base)
}

func (s *Service) invalidateCaches(ctx context.Context) {
	for _, key := range []string{cache.StatsKey, cache.WallKey} {
		if err := s.cache.Delete(ctx, key); err != nil {
			log.Printf("Failed to invalidate cache key %s: %v", key, err)
		}
	}
}

// categoryForTemplate maps a valentine template to its payment price tier.
func categoryForTemplate(t models.Template) mpesa.Category {
	switch t {
	case models.TemplateLoveLetter:
		return mpesa.CategoryLetter
	case models.TemplatePoem:
		return mpesa.CategoryPoem
	default:
		return mpesa.CategoryBasic
	}
}

func answersMatch(provided, expected string) bool {
	return strings.TrimSpace(strings.ToLower(provided)) == strings.TrimSpace(strings.ToLower(expected))
}

// lockedView blanks sensitive fields when a secret question protects the
// valentine.
func lockedView(v models.Valentine) models.ValentineView {
	if v.ProtectionAnswer == "" {
		return models.ValentineView{Valentine: v, IsLocked: false}
	}

	v.Message = "Locked by secret question"
	v.MusicLink = ""
	v.ImageURL = ""
	return models.ValentineView{Valentine: v, IsLocked: true}
}
