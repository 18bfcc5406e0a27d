package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"valentine-link-api/internal/models"
)

const (
	maxNameLen    = 100
	maxTitleLen   = 200
	maxMessageLen = 5000
	maxAnswerLen  = 255
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateCreateRequest checks a create-valentine request.
func ValidateCreateRequest(req models.CreateValentineRequest) error {
	if err := validateName(req.RecipientName, "recipient_name"); err != nil {
		return err
	}
	if err := validateName(req.SenderName, "sender_name"); err != nil {
		return err
	}

	if req.Message == "" {
		return &ValidationError{Field: "message", Message: "is required"}
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLen {
		return &ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("cannot exceed %d characters", maxMessageLen),
		}
	}

	if utf8.RuneCountInString(req.Title) > maxTitleLen {
		return &ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("cannot exceed %d characters", maxTitleLen),
		}
	}

	if err := validateTheme(req.Theme); err != nil {
		return err
	}
	if err := validateTemplate(req.Template); err != nil {
		return err
	}

	if err := validateOptionalURL(req.MusicLink, "music_link"); err != nil {
		return err
	}
	if err := validateOptionalURL(req.ImageURL, "image_url"); err != nil {
		return err
	}

	// A question without an answer would lock the page forever.
	if req.ProtectionQuestion != "" && req.ProtectionAnswer == "" {
		return &ValidationError{
			Field:   "protection_answer",
			Message: "is required when a protection question is set",
		}
	}
	if utf8.RuneCountInString(req.ProtectionAnswer) > maxAnswerLen {
		return &ValidationError{
			Field:   "protection_answer",
			Message: fmt.Sprintf("cannot exceed %d characters", maxAnswerLen),
		}
	}

	return nil
}

func validateName(name, field string) error {
	if name == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("cannot exceed %d characters", maxNameLen),
		}
	}
	return nil
}

func validateTheme(theme models.Theme) error {
	switch theme {
	case "", models.ThemeClassic, models.ThemeMidnight, models.ThemeGolden:
		return nil
	}
	return &ValidationError{Field: "theme", Message: "must be classic, midnight or golden"}
}

func validateTemplate(template models.Template) error {
	switch template {
	case "", models.TemplateClassic, models.TemplateLoveLetter, models.TemplatePoem:
		return nil
	}
	return &ValidationError{Field: "template_type", Message: "must be classic, love_letter or poem"}
}

func validateOptionalURL(raw, field string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: field, Message: "must be an http(s) URL"}
	}
	return nil
}

// SanitizeString strips control characters and trims surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
