package models

import "github.com/shopspring/decimal"

// RawRow is one scraped table row: trimmed text cells in page order.
type RawRow []string

// NormalizedRecord is the canonical form of one sales ranking row.
//
// Volume is never negative. ShareRatio keeps display units ("17.7" for
// 17.7%); a nil delta means the source did not say, not "no change".
type NormalizedRecord struct {
	Rank       int              `json:"rank"`
	EntityName string           `json:"model_name"`
	Volume     int64            `json:"sales_units"`
	ShareRatio *decimal.Decimal `json:"share_ratio,omitempty"`
	MoMDelta   *int64           `json:"mom_delta,omitempty"`
	YoYDelta   *int64           `json:"yoy_delta,omitempty"`
}

// MetaRow is one scraped ranking-metadata row for a brand and month.
type MetaRow struct {
	BrandCode string `json:"brand"`
	Month     Month  `json:"month"`
	Rank      int    `json:"rank"`
	ModelName string `json:"model_name"`
	DetailURL string `json:"detail_url,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}
