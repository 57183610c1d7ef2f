package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/squarepro/licensing/internal/core/domain"
)

//go:embed schema.sql
var schema string

// PostgresRepository implements ports.LicenseRepository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates and returns a new PostgresRepository instance.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent, so this
// is safe to run on every startup.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique-index
// rejection (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const licenseColumns = `id, license_key, stripe_customer_id, stripe_subscription_id, status,
       customer_email, key_sent_at, max_domains, created_at, updated_at`

func scanLicense(row *sql.Row) (*domain.License, error) {
	var lic domain.License
	var email sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(&lic.ID, &lic.LicenseKey, &lic.StripeCustomerID, &lic.StripeSubscriptionID,
		&lic.Status, &email, &sentAt, &lic.MaxDomains, &lic.CreatedAt, &lic.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		lic.CustomerEmail = email.String
	}
	if sentAt.Valid {
		t := sentAt.Time
		lic.KeySentAt = &t
	}
	return &lic, nil
}

func (r *PostgresRepository) GetLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1`
	return scanLicense(r.db.QueryRowContext(ctx, query, key))
}

func (r *PostgresRepository) GetLicenseBySubscription(ctx context.Context, subscriptionID string) (*domain.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE stripe_subscription_id = $1`
	return scanLicense(r.db.QueryRowContext(ctx, query, subscriptionID))
}

func (r *PostgresRepository) CreateLicense(ctx context.Context, lic *domain.License) error {
	query := `INSERT INTO licenses (id, license_key, stripe_customer_id, stripe_subscription_id, status,
	                                customer_email, max_domains, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, lic.ID, lic.LicenseKey, lic.StripeCustomerID,
		lic.StripeSubscriptionID, lic.Status, lic.CustomerEmail, lic.MaxDomains, lic.CreatedAt, lic.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create license: %w", domain.ErrDuplicate)
	}
	return err
}

// UpdateLicenseBilling refreshes billing fields. customer_email is
// first-write-wins: COALESCE keeps any value already on file, and an
// empty email writes nothing at all.
func (r *PostgresRepository) UpdateLicenseBilling(ctx context.Context, id, customerID string, status domain.LicenseStatus, email string) error {
	query := `UPDATE licenses SET stripe_customer_id = $1, status = $2,
	          customer_email = COALESCE(customer_email, NULLIF($3, '')), updated_at = $4
	          WHERE id = $5`
	_, err := r.db.ExecContext(ctx, query, customerID, status, domain.NormalizeEmail(email), time.Now(), id)
	return err
}

func (r *PostgresRepository) SetStatusBySubscription(ctx context.Context, subscriptionID string, status domain.LicenseStatus) error {
	query := `UPDATE licenses SET status = $1, updated_at = $2 WHERE stripe_subscription_id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), subscriptionID)
	return err
}

func (r *PostgresRepository) ListDomains(ctx context.Context, licenseID string) ([]domain.LicenseDomain, error) {
	query := `SELECT id, license_id, hostname, created_at, last_seen_at FROM license_domains
	          WHERE license_id = $1 ORDER BY created_at ASC`
	rows, errQuery := r.db.QueryContext(ctx, query, licenseID)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var bindings []domain.LicenseDomain
	for rows.Next() {
		var d domain.LicenseDomain
		if errScan := rows.Scan(&d.ID, &d.LicenseID, &d.Hostname, &d.CreatedAt, &d.LastSeenAt); errScan != nil {
			return nil, errScan
		}
		bindings = append(bindings, d)
	}
	return bindings, rows.Err()
}

// UpsertDomain inserts a binding; when another request already bound the
// same hostname, the unique index turns the insert into a last_seen_at
// refresh instead of a duplicate row.
func (r *PostgresRepository) UpsertDomain(ctx context.Context, d *domain.LicenseDomain) error {
	query := `INSERT INTO license_domains (id, license_id, hostname, created_at, last_seen_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (license_id, hostname) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.LicenseID, d.Hostname, d.CreatedAt, d.LastSeenAt)
	return err
}

func (r *PostgresRepository) TouchDomain(ctx context.Context, id string, seenAt time.Time) error {
	query := `UPDATE license_domains SET last_seen_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, seenAt, id)
	return err
}

// ClaimKeyDelivery is the at-most-once guard for the license-key email.
// The WHERE clause makes it a compare-and-set: exactly one concurrent
// caller sees a row affected.
func (r *PostgresRepository) ClaimKeyDelivery(ctx context.Context, licenseID, email string, at time.Time) (bool, error) {
	query := `UPDATE licenses SET key_sent_at = $1,
	          customer_email = COALESCE(customer_email, NULLIF($2, '')), updated_at = $1
	          WHERE id = $3 AND key_sent_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, at, domain.NormalizeEmail(email), licenseID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) ReleaseKeyDelivery(ctx context.Context, licenseID string) error {
	query := `UPDATE licenses SET key_sent_at = NULL, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), licenseID)
	return err
}

func (r *PostgresRepository) ExpireLiveOtps(ctx context.Context, email string, at time.Time) error {
	query := `UPDATE email_otps SET used_at = $1 WHERE email = $2 AND used_at IS NULL AND expires_at > $1`
	_, err := r.db.ExecContext(ctx, query, at, email)
	return err
}

func (r *PostgresRepository) CreateOtp(ctx context.Context, otp *domain.EmailOtp) error {
	query := `INSERT INTO email_otps (id, email, code_hash, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, otp.ID, otp.Email, otp.CodeHash, otp.CreatedAt, otp.ExpiresAt)
	return err
}

// ConsumeOtp marks the newest live matching code as used in a single
// statement, so two concurrent redemptions of the same code cannot both
// succeed. The liveness predicates appear in the outer WHERE as well as
// the subselect: under READ COMMITTED a session that blocked on the row
// lock re-evaluates only the outer qualifiers against the committed row
// version, and used_at IS NULL is what makes that recheck fail for the
// loser.
func (r *PostgresRepository) ConsumeOtp(ctx context.Context, email, codeHash string, at time.Time) (bool, error) {
	query := `UPDATE email_otps SET used_at = $1
	          WHERE used_at IS NULL AND expires_at > $1 AND id = (
	              SELECT id FROM email_otps
	              WHERE email = $2 AND code_hash = $3 AND used_at IS NULL AND expires_at > $1
	              ORDER BY created_at DESC LIMIT 1
	          )`
	res, err := r.db.ExecContext(ctx, query, at, email, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
