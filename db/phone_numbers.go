package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"

	dbtx "agentpool/db/tx"
	"agentpool/models"
)

type PostgresPhoneNumbersRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for pool_phone_numbers table
var phoneNumbersColumns = []string{
	"id",
	"phone_number",
	"provider_sid",
	"monthly_price",
	"status",
	"assigned_instance_id",
	"created_at",
	"updated_at",
}

func NewPostgresPhoneNumbersRepository(db *sqlx.DB, schema string) *PostgresPhoneNumbersRepository {
	return &PostgresPhoneNumbersRepository{db: db, schema: schema}
}

func (r *PostgresPhoneNumbersRepository) InsertPhoneNumber(
	ctx context.Context,
	number *models.PoolPhoneNumber,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(phoneNumbersColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.pool_phone_numbers (id, phone_number, provider_sid, monthly_price, status, assigned_instance_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING %s`, r.schema, returningStr)

	err := db.QueryRowxContext(ctx, query,
		number.ID, number.PhoneNumber, number.ProviderSID, number.MonthlyPrice,
		number.Status, number.AssignedInstanceID).
		StructScan(number)
	if err != nil {
		return fmt.Errorf("failed to insert phone number: %w", err)
	}

	return nil
}

// ClaimAvailablePhoneNumber atomically assigns one pooled number to the given
// instance. Skip-locked keeps concurrent provisioners off the same row.
// Returns None when the pool is empty and a number must be purchased upstream.
func (r *PostgresPhoneNumbersRepository) ClaimAvailablePhoneNumber(
	ctx context.Context,
	instanceID string,
) (mo.Option[*models.PoolPhoneNumber], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(phoneNumbersColumns, ", ")

	query := fmt.Sprintf(`
		UPDATE %s.pool_phone_numbers
		SET status = $1, assigned_instance_id = $2, updated_at = NOW()
		WHERE id = (
			SELECT id
			FROM %s.pool_phone_numbers
			WHERE status = $3
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, r.schema, r.schema, returningStr)

	number := &models.PoolPhoneNumber{}
	err := db.QueryRowxContext(ctx, query,
		models.PhoneNumberStatusAssigned, instanceID, models.PhoneNumberStatusAvailable).
		StructScan(number)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.PoolPhoneNumber](), nil
		}
		return mo.None[*models.PoolPhoneNumber](), fmt.Errorf("failed to claim pooled phone number: %w", err)
	}

	return mo.Some(number), nil
}

// ReleasePhoneNumber returns a number to the pool instead of deleting it
// upstream, so the next instance reuses it without a purchase.
func (r *PostgresPhoneNumbersRepository) ReleasePhoneNumber(
	ctx context.Context,
	providerSID string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.pool_phone_numbers
		SET status = $1, assigned_instance_id = NULL, updated_at = NOW()
		WHERE provider_sid = $2`, r.schema)

	result, err := db.ExecContext(ctx, query, models.PhoneNumberStatusAvailable, providerSID)
	if err != nil {
		return false, fmt.Errorf("failed to release phone number: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *PostgresPhoneNumbersRepository) GetAllPhoneNumbers(ctx context.Context) ([]*models.PoolPhoneNumber, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(phoneNumbersColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.pool_phone_numbers
		ORDER BY created_at ASC`, columnsStr, r.schema)

	var numbers []*models.PoolPhoneNumber
	err := db.SelectContext(ctx, &numbers, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool phone numbers: %w", err)
	}

	return numbers, nil
}

func (r *PostgresPhoneNumbersRepository) DeletePhoneNumber(ctx context.Context, providerSID string) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf("DELETE FROM %s.pool_phone_numbers WHERE provider_sid = $1", r.schema)

	result, err := db.ExecContext(ctx, query, providerSID)
	if err != nil {
		return false, fmt.Errorf("failed to delete phone number: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
