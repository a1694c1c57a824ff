package models

import "time"

// InstanceInfra is the 1:1 binding between an instance row and its remote
// compute service. The provider service id uniquely identifies the remote
// resource; the service must be deleted before this row is.
type InstanceInfra struct {
	InstanceID        string        `json:"instance_id"         db:"instance_id"`
	ProviderServiceID string        `json:"provider_service_id" db:"provider_service_id"`
	ProviderEnvID     string        `json:"provider_env_id"     db:"provider_env_id"`
	ProviderProjectID string        `json:"provider_project_id" db:"provider_project_id"`
	DeployStatus      *DeployStatus `json:"deploy_status"       db:"deploy_status"`
	RuntimeImage      string        `json:"runtime_image"       db:"runtime_image"`
	URL               *string       `json:"url"                 db:"url"`
	CreatedAt         time.Time     `json:"created_at"          db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"          db:"updated_at"`
}
