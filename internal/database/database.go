package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"valentine-link-api/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("database: record not found")
	// ErrCodeInUse is returned when a save would bind an M-Pesa code that
	// another record already owns. The UNIQUE index makes this the durable
	// duplicate guarantee even under concurrent submissions.
	ErrCodeInUse = errors.New("database: m-pesa code already in use")
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS valentines (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			recipient_name TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			sender_location TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			theme TEXT NOT NULL,
			template_type TEXT NOT NULL,
			music_link TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			protection_question TEXT NOT NULL DEFAULT '',
			protection_answer TEXT NOT NULL DEFAULT '',
			management_token TEXT NOT NULL UNIQUE,
			is_accepted INTEGER NOT NULL DEFAULT 0,
			accepted_at TEXT,
			views_count INTEGER NOT NULL DEFAULT 0,
			is_paid INTEGER NOT NULL DEFAULT 0,
			is_pending_verification INTEGER NOT NULL DEFAULT 0,
			amount_paid TEXT NOT NULL DEFAULT '0',
			mpesa_code TEXT UNIQUE,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_valentines_slug ON valentines(slug)`,
		`CREATE INDEX IF NOT EXISTS idx_valentines_token ON valentines(management_token)`,
		`CREATE INDEX IF NOT EXISTS idx_valentines_created_at ON valentines(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// CreateValentine inserts a new valentine record.
func (db *DB) CreateValentine(ctx context.Context, v models.Valentine) error {
	query := `INSERT INTO valentines (
		id, slug, recipient_name, sender_name, sender_location, title, message,
		theme, template_type, music_link, image_url, protection_question,
		protection_answer, management_token, amount_paid, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.conn.ExecContext(ctx, query,
		v.ID,
		v.Slug,
		v.RecipientName,
		v.SenderName,
		v.SenderLocation,
		v.Title,
		v.Message,
		string(v.Theme),
		string(v.Template),
		v.MusicLink,
		v.ImageURL,
		v.ProtectionQuestion,
		v.ProtectionAnswer,
		v.ManagementToken,
		v.AmountPaid.String(),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert valentine: %w", err)
	}

	return nil
}

const valentineColumns = `id, slug, recipient_name, sender_name, sender_location,
	title, message, theme, template_type, music_link, image_url,
	protection_question, protection_answer, management_token, is_accepted,
	accepted_at, views_count, is_paid, is_pending_verification, amount_paid,
	mpesa_code, created_at, updated_at`

// GetBySlug returns the valentine behind a share link.
func (db *DB) GetBySlug(ctx context.Context, slug string) (models.Valentine, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+valentineColumns+` FROM valentines WHERE slug = ?`, slug)
	return scanValentine(row)
}

// GetByManagementToken returns the valentine owned by a management token.
func (db *DB) GetByManagementToken(ctx context.Context, token string) (models.Valentine, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+valentineColumns+` FROM valentines WHERE management_token = ?`, token)
	return scanValentine(row)
}

// SlugExists reports whether a slug is already taken.
func (db *DB) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM valentines WHERE slug = ?`, slug).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

// CodeInUse reports whether an M-Pesa code is already bound to a record
// other than excludeID. This is the in-process duplicate lookup; the UNIQUE
// index on mpesa_code backs it up at save time.
func (db *DB) CodeInUse(ctx context.Context, code, excludeID string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM valentines WHERE mpesa_code = ? AND id != ?`,
		code, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check m-pesa code: %w", err)
	}
	return count > 0, nil
}

// MarkPaid binds an accepted payment to a valentine: stores the code and
// amount, marks it paid and flags it for out-of-band verification.
func (db *DB) MarkPaid(ctx context.Context, id, code string, amount decimal.Decimal) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE valentines SET mpesa_code = ?, amount_paid = ?, is_paid = 1,
			is_pending_verification = 1, updated_at = ? WHERE id = ?`,
		code, amount.String(), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeInUse
		}
		return fmt.Errorf("failed to mark valentine paid: %w", err)
	}

	return ensureOneRow(result)
}

// StoreRevealCode records the code submitted on the reveal-answer path
// without touching the payment status.
func (db *DB) StoreRevealCode(ctx context.Context, id, code string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE valentines SET mpesa_code = ?, updated_at = ? WHERE id = ?`,
		code, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeInUse
		}
		return fmt.Errorf("failed to store reveal code: %w", err)
	}

	return ensureOneRow(result)
}

// MarkAccepted stamps the valentine as accepted.
func (db *DB) MarkAccepted(ctx context.Context, id string, at time.Time) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE valentines SET is_accepted = 1, accepted_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to mark valentine accepted: %w", err)
	}

	return ensureOneRow(result)
}

// IncrementViews bumps the view counter.
func (db *DB) IncrementViews(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE valentines SET views_count = views_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	return nil
}

// ListRecent returns the newest paid valentines for the Wall of Lovers.
func (db *DB) ListRecent(ctx context.Context, limit int) ([]models.WallEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT slug, recipient_name, sender_name, sender_location, theme,
			is_accepted, created_at
		FROM valentines WHERE is_paid = 1
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent valentines: %w", err)
	}
	defer rows.Close()

	var entries []models.WallEntry
	for rows.Next() {
		var e models.WallEntry
		var theme, createdAt string
		if err := rows.Scan(&e.Slug, &e.RecipientName, &e.SenderName,
			&e.SenderLocation, &theme, &e.IsAccepted, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan wall entry: %w", err)
		}
		e.Theme = models.Theme(theme)
		e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wall entries: %w", err)
	}

	return entries, nil
}

// GetStats returns platform-wide counters.
func (db *DB) GetStats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(is_accepted), 0),
			COALESCE(SUM(views_count), 0)
		FROM valentines`).Scan(&stats.TotalValentines, &stats.TotalAccepted, &stats.TotalViews)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}

	if stats.TotalValentines > 0 {
		rate := float64(stats.TotalAccepted) / float64(stats.TotalValentines) * 100
		stats.AcceptanceRate = math.Round(rate*100) / 100
	}

	return stats, nil
}

func scanValentine(row *sql.Row) (models.Valentine, error) {
	var v models.Valentine
	var theme, template, amountPaid, createdAt, updatedAt string
	var acceptedAt, mpesaCode sql.NullString

	err := row.Scan(
		&v.ID,
		&v.Slug,
		&v.RecipientName,
		&v.SenderName,
		&v.SenderLocation,
		&v.Title,
		&v.Message,
		&theme,
		&template,
		&v.MusicLink,
		&v.ImageURL,
		&v.ProtectionQuestion,
		&v.ProtectionAnswer,
		&v.ManagementToken,
		&v.IsAccepted,
		&acceptedAt,
		&v.ViewsCount,
		&v.IsPaid,
		&v.IsPendingVerification,
		&amountPaid,
		&mpesaCode,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return models.Valentine{}, ErrNotFound
	}
	if err != nil {
		return models.Valentine{}, fmt.Errorf("failed to scan valentine: %w", err)
	}

	v.Theme = models.Theme(theme)
	v.Template = models.Template(template)
	v.MpesaCode = mpesaCode.String

	v.AmountPaid, err = decimal.NewFromString(amountPaid)
	if err != nil {
		return models.Valentine{}, fmt.Errorf("failed to parse amount_paid: %w", err)
	}

	v.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return models.Valentine{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	v.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return models.Valentine{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	if acceptedAt.Valid {
		t, err := time.Parse(time.RFC3339, acceptedAt.String)
		if err != nil {
			return models.Valentine{}, fmt.Errorf("failed to parse accepted_at: %w", err)
		}
		v.AcceptedAt = &t
	}

	return v, nil
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func ensureOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
