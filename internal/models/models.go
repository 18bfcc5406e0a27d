package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Template identifies which valentine template the sender picked. The
// template decides the price tier a payment must meet.
type Template string

const (
	TemplateClassic    Template = "classic"     // basic gift box
	TemplateLoveLetter Template = "love_letter" // premium
	TemplatePoem       Template = "poem"        // premium
)

// Theme is a purely visual choice and has no pricing impact.
type Theme string

const (
	ThemeClassic  Theme = "classic"
	ThemeMidnight Theme = "midnight"
	ThemeGolden   Theme = "golden"
)

// Valentine is the persisted record behind a shared link.
type Valentine struct {
	ID             string   `json:"id"` // uuid
	Slug           string   `json:"slug"`
	RecipientName  string   `json:"recipient_name"`
	SenderName     string   `json:"sender_name"`
	SenderLocation string   `json:"sender_location,omitempty"`
	Title          string   `json:"title,omitempty"`
	Message        string   `json:"message"`
	Theme          Theme    `json:"theme"`
	Template       Template `json:"template_type"`

	MusicLink string `json:"music_link,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`

	ProtectionQuestion string `json:"protection_question,omitempty"`
	ProtectionAnswer   string `json:"-"` // never serialized

	ManagementToken string `json:"-"`

	IsAccepted bool       `json:"is_accepted"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	ViewsCount int        `json:"views_count"`

	IsPaid                bool            `json:"is_paid"`
	IsPendingVerification bool            `json:"-"`
	AmountPaid            decimal.Decimal `json:"-"`
	MpesaCode             string          `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// CreateValentineRequest is the request body for creating a valentine.
type CreateValentineRequest struct {
	RecipientName      string   `json:"recipient_name"`
	SenderName         string   `json:"sender_name"`
	SenderLocation     string   `json:"sender_location"`
	Title              string   `json:"title"`
	Message            string   `json:"message"`
	Theme              Theme    `json:"theme"`
	Template           Template `json:"template_type"`
	MusicLink          string   `json:"music_link"`
	ImageURL           string   `json:"image_url"`
	ProtectionQuestion string   `json:"protection_question"`
	ProtectionAnswer   string   `json:"protection_answer"`
}

// CreateValentineResponse returns the share link and the secret management
// token the sender needs to keep.
type CreateValentineResponse struct {
	Slug            string `json:"slug"`
	ManagementToken string `json:"management_token"`
	RecipientName   string `json:"recipient_name"`
	Link            string `json:"link"`
	ManageLink      string `json:"manage_link"`
}

// ValentineView is the read projection of a valentine. When the record is
// protected by a secret question and not yet unlocked, the sensitive fields
// are blanked and IsLocked is set.
type ValentineView struct {
	Valentine
	IsLocked bool `json:"is_locked"`
}

// SubmitPaymentRequest carries the pasted confirmation message or bare code.
type SubmitPaymentRequest struct {
	Code string `json:"code"`
}

// SubmitPaymentResponse reports the engine verdict to the client.
type SubmitPaymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	IsPaid  bool   `json:"is_paid"`
	Slug    string `json:"slug"`
}

// RespondRequest marks a valentine accepted (or records a decline).
type RespondRequest struct {
	Accepted         bool   `json:"accepted"`
	ProtectionAnswer string `json:"protection_answer"`
}

// UnlockRequest carries the secret-question answer.
type UnlockRequest struct {
	Answer string `json:"answer"`
}

// RevealRequest carries the code submitted to reveal the secret answer.
type RevealRequest struct {
	Code string `json:"code"`
}

// WallEntry is the public projection shown on the Wall of Lovers.
type WallEntry struct {
	Slug           string    `json:"slug"`
	RecipientName  string    `json:"recipient_name"`
	SenderName     string    `json:"sender_name"`
	SenderLocation string    `json:"sender_location,omitempty"`
	Theme          Theme     `json:"theme"`
	IsAccepted     bool      `json:"is_accepted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats summarizes platform activity.
type Stats struct {
	TotalValentines int     `json:"total_valentines"`
	TotalAccepted   int     `json:"total_accepted"`
	TotalViews      int     `json:"total_views"`
	AcceptanceRate  float64 `json:"acceptance_rate"`
}

// RespondResponse confirms a recorded response.
type RespondResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	IsAccepted bool   `json:"is_accepted"`
}

// RevealResponse carries the secret answer after a reveal payment.
type RevealResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Answer  string `json:"answer"`
}

// WallResponse is the Wall of Lovers page.
type WallResponse struct {
	Count int         `json:"count"`
	Data  []WallEntry `json:"data"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
