package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const SourceDanawa = "DANAWA"

type MonthlySalesFact struct {
	ModelID          int64            `json:"model_id"`
	Month            Month            `json:"month"`
	SalesUnits       int64            `json:"sales_units"`
	MarketTotalUnits *int64           `json:"market_total_units,omitempty"`
	AdoptionRate     *decimal.Decimal `json:"adoption_rate,omitempty"`
	Source           string           `json:"source"`
}

type MonthlyInterestFact struct {
	ModelID          int64            `json:"model_id"`
	Month            Month            `json:"month"`
	NaverIndex       *decimal.Decimal `json:"naver_index,omitempty"`
	GoogleIndex      *decimal.Decimal `json:"google_index,omitempty"`
	DanawaPopularity *decimal.Decimal `json:"danawa_popularity,omitempty"`
}

// InterestSource names one independent interest loader. Each source owns
// exactly one column of the interest table.
type InterestSource string

const (
	InterestNaver  InterestSource = "naver"
	InterestGoogle InterestSource = "google"
	InterestDanawa InterestSource = "danawa"
)

var InterestSources = []InterestSource{InterestNaver, InterestGoogle, InterestDanawa}

func ParseInterestSource(s string) (InterestSource, error) {
	for _, src := range InterestSources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown interest source %q", s)
}

// Column is the interest table column owned by the source.
func (s InterestSource) Column() string {
	switch s {
	case InterestNaver:
		return "naver_index"
	case InterestGoogle:
		return "google_index"
	case InterestDanawa:
		return "danawa_popularity"
	default:
		return ""
	}
}
