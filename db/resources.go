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

type PostgresResourcesRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for instance_resources table
var resourcesColumns = []string{
	"id",
	"instance_id",
	"tool_id",
	"resource_id",
	"env_key",
	"env_value",
	"resource_meta",
	"status",
	"created_at",
}

func NewPostgresResourcesRepository(db *sqlx.DB, schema string) *PostgresResourcesRepository {
	return &PostgresResourcesRepository{db: db, schema: schema}
}

func (r *PostgresResourcesRepository) CreateInstanceResource(
	ctx context.Context,
	resource *models.InstanceResource,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	returningStr := strings.Join(resourcesColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.instance_resources (id, instance_id, tool_id, resource_id, env_key, env_value, resource_meta, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING %s`, r.schema, returningStr)

	err := db.QueryRowxContext(ctx, query,
		resource.ID, resource.InstanceID, resource.ToolID, resource.ResourceID,
		resource.EnvKey, resource.EnvValue, resource.ResourceMeta, resource.Status).
		StructScan(resource)
	if err != nil {
		return fmt.Errorf("failed to create instance resource: %w", err)
	}

	return nil
}

func (r *PostgresResourcesRepository) GetResourcesByInstanceID(
	ctx context.Context,
	instanceID string,
) ([]*models.InstanceResource, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(resourcesColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.instance_resources
		WHERE instance_id = $1
		ORDER BY created_at ASC`, columnsStr, r.schema)

	var resources []*models.InstanceResource
	err := db.SelectContext(ctx, &resources, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance resources: %w", err)
	}

	return resources, nil
}

func (r *PostgresResourcesRepository) GetResourceByInstanceAndTool(
	ctx context.Context,
	instanceID string,
	toolID models.ToolKind,
) (mo.Option[*models.InstanceResource], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(resourcesColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.instance_resources
		WHERE instance_id = $1 AND tool_id = $2`, columnsStr, r.schema)

	resource := &models.InstanceResource{}
	err := db.GetContext(ctx, resource, query, instanceID, toolID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.InstanceResource](), nil
		}
		return mo.None[*models.InstanceResource](), fmt.Errorf("failed to get instance resource: %w", err)
	}

	return mo.Some(resource), nil
}

// GetActiveResourceIDsByTool lists resource ids still referenced by active
// rows - the store side of the orphan intersection.
func (r *PostgresResourcesRepository) GetActiveResourceIDsByTool(
	ctx context.Context,
	toolID models.ToolKind,
) ([]string, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		SELECT resource_id
		FROM %s.instance_resources
		WHERE tool_id = $1 AND status = $2
		ORDER BY created_at ASC`, r.schema)

	var resourceIDs []string
	err := db.SelectContext(ctx, &resourceIDs, query, toolID, models.ResourceStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get active resource ids: %w", err)
	}

	return resourceIDs, nil
}

func (r *PostgresResourcesRepository) DeleteResource(
	ctx context.Context,
	instanceID string,
	toolID models.ToolKind,
	resourceID string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		DELETE FROM %s.instance_resources
		WHERE instance_id = $1 AND tool_id = $2 AND resource_id = $3`, r.schema)

	result, err := db.ExecContext(ctx, query, instanceID, toolID, resourceID)
	if err != nil {
		return false, fmt.Errorf("failed to delete instance resource: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
