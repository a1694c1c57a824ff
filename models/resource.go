package models

import (
	"encoding/json"
	"time"
)

// ToolKind is a category of attachable external resource.
type ToolKind string

const (
	ToolKindCredential ToolKind = "credential"
	ToolKindMailbox    ToolKind = "mailbox"
	ToolKindPhone      ToolKind = "phone"
)

// AllToolKinds lists every attachable resource kind in provisioning order.
var AllToolKinds = []ToolKind{ToolKindCredential, ToolKindMailbox, ToolKindPhone}

// IsValidToolKind reports whether s names a known resource kind.
func IsValidToolKind(s string) bool {
	switch ToolKind(s) {
	case ToolKindCredential, ToolKindMailbox, ToolKindPhone:
		return true
	}
	return false
}

type ResourceStatus string

const (
	ResourceStatusActive   ResourceStatus = "active"
	ResourceStatusReleased ResourceStatus = "released"
)

// InstanceResource is one attached external resource. An instance holds at
// most one resource of each kind; the row is deleted only after the provider
// resource is destroyed or destruction is abandoned as best-effort.
type InstanceResource struct {
	ID           string          `json:"id"            db:"id"`
	InstanceID   string          `json:"instance_id"   db:"instance_id"`
	ToolID       ToolKind        `json:"tool_id"       db:"tool_id"`
	ResourceID   string          `json:"resource_id"   db:"resource_id"`
	EnvKey       string          `json:"env_key"       db:"env_key"`
	EnvValue     string          `json:"env_value"     db:"env_value"`
	ResourceMeta json.RawMessage `json:"resource_meta" db:"resource_meta"`
	Status       ResourceStatus  `json:"status"        db:"status"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
}

// PhoneNumberStatus tracks a number inside the internal reuse pool.
type PhoneNumberStatus string

const (
	PhoneNumberStatusAvailable PhoneNumberStatus = "available"
	PhoneNumberStatusAssigned  PhoneNumberStatus = "assigned"
)

// PoolPhoneNumber is a previously purchased number held for reuse. Releasing
// an instance returns its number here instead of deleting it upstream.
type PoolPhoneNumber struct {
	ID                 string            `json:"id"                   db:"id"`
	PhoneNumber        string            `json:"phone_number"         db:"phone_number"`
	ProviderSID        string            `json:"provider_sid"         db:"provider_sid"`
	MonthlyPrice       *string           `json:"monthly_price"        db:"monthly_price"`
	Status             PhoneNumberStatus `json:"status"               db:"status"`
	AssignedInstanceID *string           `json:"assigned_instance_id" db:"assigned_instance_id"`
	CreatedAt          time.Time         `json:"created_at"           db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"           db:"updated_at"`
}
