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

type PostgresInfraRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for instance_infra table
var infraColumns = []string{
	"instance_id",
	"provider_service_id",
	"provider_env_id",
	"provider_project_id",
	"deploy_status",
	"runtime_image",
	"url",
	"created_at",
	"updated_at",
}

func NewPostgresInfraRepository(db *sqlx.DB, schema string) *PostgresInfraRepository {
	return &PostgresInfraRepository{db: db, schema: schema}
}

func (r *PostgresInfraRepository) CreateInstanceInfra(ctx context.Context, infra *models.InstanceInfra) error {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(infraColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.instance_infra (instance_id, provider_service_id, provider_env_id, provider_project_id, deploy_status, runtime_image, url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING %s`, r.schema, returningStr)

	err := db.QueryRowxContext(ctx, query,
		infra.InstanceID, infra.ProviderServiceID, infra.ProviderEnvID,
		infra.ProviderProjectID, infra.DeployStatus, infra.RuntimeImage, infra.URL).
		StructScan(infra)
	if err != nil {
		return fmt.Errorf("failed to create instance infra: %w", err)
	}

	return nil
}

func (r *PostgresInfraRepository) GetInfraByInstanceID(
	ctx context.Context,
	instanceID string,
) (mo.Option[*models.InstanceInfra], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(infraColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.instance_infra
		WHERE instance_id = $1`, columnsStr, r.schema)

	infra := &models.InstanceInfra{}
	err := db.GetContext(ctx, infra, query, instanceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.InstanceInfra](), nil
		}
		return mo.None[*models.InstanceInfra](), fmt.Errorf("failed to get instance infra: %w", err)
	}

	return mo.Some(infra), nil
}

func (r *PostgresInfraRepository) GetAllInfra(ctx context.Context) ([]*models.InstanceInfra, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(infraColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.instance_infra
		ORDER BY created_at ASC`, columnsStr, r.schema)

	var infras []*models.InstanceInfra
	err := db.SelectContext(ctx, &infras, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get all instance infra: %w", err)
	}

	return infras, nil
}

func (r *PostgresInfraRepository) UpdateDeployState(
	ctx context.Context,
	instanceID string,
	deployStatus *models.DeployStatus,
	url *string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.instance_infra
		SET deploy_status = $2,
			url = COALESCE($3, url),
			updated_at = NOW()
		WHERE instance_id = $1`, r.schema)

	result, err := db.ExecContext(ctx, query, instanceID, deployStatus, url)
	if err != nil {
		return false, fmt.Errorf("failed to update deploy state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteInfraByInstanceID removes the infra row; resource rows cascade from it.
func (r *PostgresInfraRepository) DeleteInfraByInstanceID(ctx context.Context, instanceID string) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf("DELETE FROM %s.instance_infra WHERE instance_id = $1", r.schema)

	result, err := db.ExecContext(ctx, query, instanceID)
	if err != nil {
		return false, fmt.Errorf("failed to delete instance infra: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
