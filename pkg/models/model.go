package models

import "time"

// CanonicalModel is the durable identity of one brand + model offering.
//
// (BrandName, EntityName) is the natural key and never changes after the
// row is created. ExternalID is unique across all models when set.
type CanonicalModel struct {
	ModelID     int64   `json:"model_id"`
	BrandName   string  `json:"brand_name"`
	EntityName  string  `json:"model_name"`
	ExternalID  *int64  `json:"external_id,omitempty"`
	ExternalURL *string `json:"external_url,omitempty"`
}

// ModelKey is the natural key of a CanonicalModel.
type ModelKey struct {
	BrandName  string
	EntityName string
}

func (m CanonicalModel) Key() ModelKey {
	return ModelKey{BrandName: m.BrandName, EntityName: m.EntityName}
}

// ModelCandidate aggregates every observation of one natural key over a
// window of historical snapshots.
type ModelCandidate struct {
	BrandName      string             `json:"brand_name"`
	EntityName     string             `json:"model_name"`
	FirstMonth     Month              `json:"first_month"`
	LastMonth      Month              `json:"last_month"`
	MonthsObserved map[Month]struct{} `json:"-"`
	TotalVolume    int64              `json:"total_sales"`
}

func (c *ModelCandidate) Key() ModelKey {
	return ModelKey{BrandName: c.BrandName, EntityName: c.EntityName}
}

type ModelImage struct {
	ImageID   int64     `json:"image_id"`
	ModelID   int64     `json:"model_id"`
	ImageURL  string    `json:"image_url"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}
