package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DatasetVersionStatus tracks the lifecycle of a BI dataset version
type DatasetVersionStatus string

const (
	DatasetPending    DatasetVersionStatus = "pending"
	DatasetActive     DatasetVersionStatus = "active"
	DatasetFailed     DatasetVersionStatus = "failed"
	DatasetSuperseded DatasetVersionStatus = "superseded"
	DatasetRolledBack DatasetVersionStatus = "rolled_back"
)

// DatasetColumn describes one column of a BI-exposed dataset. Exposed columns
// are the compatibility surface: removing or retyping one breaks dashboards.
type DatasetColumn struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Exposed bool   `json:"exposed"`
}

// DatasetVersion is one candidate or active schema version of a BI dataset.
// At most one row per dataset_name is active (partial unique index).
type DatasetVersion struct {
	ID                    uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DatasetName           string               `json:"datasetName" gorm:"type:varchar(255);not null;uniqueIndex:idx_dataset_version,priority:1;index"`
	Version               string               `json:"version" gorm:"type:varchar(50);not null;uniqueIndex:idx_dataset_version,priority:2"`
	Status                DatasetVersionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ColumnSnapshot        datatypes.JSON       `json:"columnSnapshot" gorm:"type:jsonb;not null"`
	IsCompatible          bool                 `json:"isCompatible" gorm:"not null;default:false"`
	IncompatibilityReason string               `json:"incompatibilityReason" gorm:"type:text"`
	ActivatedAt           *time.Time           `json:"activatedAt"`
	DeactivatedAt         *time.Time           `json:"deactivatedAt"`
	CreatedAt             time.Time            `json:"createdAt"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

// TableName specifies the table name
func (DatasetVersion) TableName() string {
	return "dataset_versions"
}

// Columns decodes the column snapshot
func (v *DatasetVersion) Columns() ([]DatasetColumn, error) {
	var cols []DatasetColumn
	if len(v.ColumnSnapshot) == 0 {
		return cols, nil
	}
	if err := json.Unmarshal(v.ColumnSnapshot, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// EncodeColumns encodes a column list for storage
func EncodeColumns(cols []DatasetColumn) (datatypes.JSON, error) {
	data, err := json.Marshal(cols)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
