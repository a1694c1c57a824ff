package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"

	// also wires up the postgres driver
	"github.com/lib/pq"

	dbtx "agentpool/db/tx"
	"agentpool/models"
)

type PostgresInstancesRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for instances table
var instancesColumns = []string{
	"id",
	"name",
	"url",
	"status",
	"agent_name",
	"conversation_id",
	"invite_url",
	"instructions",
	"created_at",
	"updated_at",
	"claimed_at",
}

func NewPostgresInstancesRepository(db *sqlx.DB, schema string) *PostgresInstancesRepository {
	return &PostgresInstancesRepository{db: db, schema: schema}
}

func (r *PostgresInstancesRepository) CreateInstance(ctx context.Context, instance *models.Instance) error {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(instancesColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.instances (id, name, url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING %s`, r.schema, returningStr)

	err := db.QueryRowxContext(ctx, query, instance.ID, instance.Name, instance.URL, instance.Status).
		StructScan(instance)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

func (r *PostgresInstancesRepository) GetInstanceByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.Instance], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(instancesColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.instances
		WHERE id = $1`, columnsStr, r.schema)

	instance := &models.Instance{}
	err := db.GetContext(ctx, instance, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.Instance](), nil
		}
		return mo.None[*models.Instance](), fmt.Errorf("failed to get instance: %w", err)
	}

	return mo.Some(instance), nil
}

func (r *PostgresInstancesRepository) GetAllInstances(ctx context.Context) ([]*models.Instance, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(instancesColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.instances
		ORDER BY created_at ASC`, columnsStr, r.schema)

	var instances []*models.Instance
	err := db.SelectContext(ctx, &instances, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get all instances: %w", err)
	}

	return instances, nil
}

func (r *PostgresInstancesRepository) GetInstancesByStatus(
	ctx context.Context,
	statuses ...models.PoolStatus,
) ([]*models.Instance, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(instancesColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.instances
		WHERE status = ANY($1)
		ORDER BY created_at ASC`, columnsStr, r.schema)

	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	var instances []*models.Instance
	err := db.SelectContext(ctx, &instances, query, pq.StringArray(statusStrs))
	if err != nil {
		return nil, fmt.Errorf("failed to get instances by status: %w", err)
	}

	return instances, nil
}

// UpsertReconciledInstance writes a reconciled row while preserving any claim
// metadata already set - a populated field is never overwritten with null.
func (r *PostgresInstancesRepository) UpsertReconciledInstance(
	ctx context.Context,
	instance *models.Instance,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(instancesColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.instances (id, name, url, status, agent_name, conversation_id, invite_url, instructions, created_at, updated_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), $9)
		ON CONFLICT (id)
		DO UPDATE SET
			url = COALESCE(EXCLUDED.url, %s.instances.url),
			status = EXCLUDED.status,
			agent_name = COALESCE(EXCLUDED.agent_name, %s.instances.agent_name),
			conversation_id = COALESCE(EXCLUDED.conversation_id, %s.instances.conversation_id),
			invite_url = COALESCE(EXCLUDED.invite_url, %s.instances.invite_url),
			instructions = COALESCE(EXCLUDED.instructions, %s.instances.instructions),
			claimed_at = COALESCE(EXCLUDED.claimed_at, %s.instances.claimed_at),
			updated_at = NOW()
		RETURNING %s`, r.schema, r.schema, r.schema, r.schema, r.schema, r.schema, r.schema, returningStr)

	err := db.QueryRowxContext(ctx, query,
		instance.ID, instance.Name, instance.URL, instance.Status,
		instance.AgentName, instance.ConversationID, instance.InviteURL,
		instance.Instructions, instance.ClaimedAt).
		StructScan(instance)
	if err != nil {
		return fmt.Errorf("failed to upsert instance: %w", err)
	}

	return nil
}

// ClaimOldestIdleInstance atomically transitions the oldest idle instance to
// claiming. The skip-locked subselect guarantees concurrent claimants never
// pick the same row and never block on each other. Returns None when the pool
// has no idle instance, which is a normal outcome.
func (r *PostgresInstancesRepository) ClaimOldestIdleInstance(
	ctx context.Context,
) (mo.Option[*models.Instance], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(instancesColumns, ", ")

	query := fmt.Sprintf(`
		UPDATE %s.instances
		SET status = $1, updated_at = NOW()
		WHERE id = (
			SELECT id
			FROM %s.instances
			WHERE status = $2
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, r.schema, r.schema, returningStr)

	instance := &models.Instance{}
	err := db.QueryRowxContext(ctx, query, models.PoolStatusClaiming, models.PoolStatusIdle).
		StructScan(instance)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.Instance](), nil
		}
		return mo.None[*models.Instance](), fmt.Errorf("failed to claim idle instance: %w", err)
	}

	return mo.Some(instance), nil
}

// CompleteClaim stamps the binding metadata on a claiming instance. The
// status guard makes the idle -> claiming -> claimed transition succeed at
// most once per claim.
func (r *PostgresInstancesRepository) CompleteClaim(
	ctx context.Context,
	id string,
	agentName, conversationID, inviteURL, instructions *string,
) (mo.Option[*models.Instance], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(instancesColumns, ", ")

	query := fmt.Sprintf(`
		UPDATE %s.instances
		SET status = $1,
			agent_name = COALESCE($3, agent_name),
			conversation_id = COALESCE($4, conversation_id),
			invite_url = COALESCE($5, invite_url),
			instructions = COALESCE($6, instructions),
			claimed_at = NOW(),
			updated_at = NOW()
		WHERE id = $2 AND status = $7
		RETURNING %s`, r.schema, returningStr)

	instance := &models.Instance{}
	err := db.QueryRowxContext(ctx, query,
		models.PoolStatusClaimed, id, agentName, conversationID, inviteURL,
		instructions, models.PoolStatusClaiming).
		StructScan(instance)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.Instance](), nil
		}
		return mo.None[*models.Instance](), fmt.Errorf("failed to complete claim: %w", err)
	}

	return mo.Some(instance), nil
}

// ReleaseClaim returns a claiming instance to idle after a transient
// provisioning failure so a later claim can retry it.
func (r *PostgresInstancesRepository) ReleaseClaim(ctx context.Context, id string) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.instances
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`, r.schema)

	result, err := db.ExecContext(ctx, query, models.PoolStatusIdle, id, models.PoolStatusClaiming)
	if err != nil {
		return false, fmt.Errorf("failed to release claim: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *PostgresInstancesRepository) UpdateInstanceStatus(
	ctx context.Context,
	id string,
	status models.PoolStatus,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.instances
		SET status = $1, updated_at = NOW()
		WHERE id = $2`, r.schema)

	result, err := db.ExecContext(ctx, query, status, id)
	if err != nil {
		return false, fmt.Errorf("failed to update instance status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *PostgresInstancesRepository) DeleteInstance(ctx context.Context, id string) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf("DELETE FROM %s.instances WHERE id = $1", r.schema)

	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *PostgresInstancesRepository) GetPoolCounts(ctx context.Context) (*models.PoolCounts, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status IN ('starting', 'claiming')) AS starting,
			COUNT(*) FILTER (WHERE status = 'idle') AS idle,
			COUNT(*) FILTER (WHERE status = 'claimed') AS claimed,
			COUNT(*) FILTER (WHERE status = 'crashed') AS crashed
		FROM %s.instances`, r.schema)

	counts := &models.PoolCounts{}
	if err := db.GetContext(ctx, counts, query); err != nil {
		return nil, fmt.Errorf("failed to get pool counts: %w", err)
	}

	return counts, nil
}
