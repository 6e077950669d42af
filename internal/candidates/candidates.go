// Package candidates folds historical sales snapshots into one provisional
// identity per (brand, model name).
package candidates

import (
	"fmt"
	"sort"

	"carpulse/pkg/models"
)

// Observation is one normalized record seen in a brand's table for a month.
type Observation struct {
	BrandName string
	Month     models.Month
	Record    models.NormalizedRecord
}

// Set maps natural keys to their candidate. Every run builds its own Set;
// the fold is commutative, so snapshots may be added in any order.
type Set map[models.ModelKey]*models.ModelCandidate

func New() Set {
	return make(Set)
}

// Add folds one observation into the set. The month must be a valid
// zero-padded YYYY-MM value, since bounds rely on string ordering.
func (s Set) Add(obs Observation) error {
	if _, err := models.ParseMonth(string(obs.Month)); err != nil {
		return fmt.Errorf("candidate %s/%s: %w", obs.BrandName, obs.Record.EntityName, err)
	}
	if obs.BrandName == "" || obs.Record.EntityName == "" {
		return fmt.Errorf("candidate needs brand and model name, got %q/%q", obs.BrandName, obs.Record.EntityName)
	}

	key := models.ModelKey{BrandName: obs.BrandName, EntityName: obs.Record.EntityName}
	c, ok := s[key]
	if !ok {
		c = &models.ModelCandidate{
			BrandName:      obs.BrandName,
			EntityName:     obs.Record.EntityName,
			FirstMonth:     obs.Month,
			LastMonth:      obs.Month,
			MonthsObserved: make(map[models.Month]struct{}),
		}
		s[key] = c
	}
	observe(c, obs.Month, obs.Record.Volume)
	return nil
}

// AddBatch folds every record of one brand/month table.
func (s Set) AddBatch(brandName string, month models.Month, recs []models.NormalizedRecord) error {
	for _, r := range recs {
		if err := s.Add(Observation{BrandName: brandName, Month: month, Record: r}); err != nil {
			return err
		}
	}
	return nil
}

// Merge folds other into s. Merging partial sets built from disjoint input
// gives the same result as adding all input to one set.
func (s Set) Merge(other Set) {
	for key, oc := range other {
		c, ok := s[key]
		if !ok {
			c = &models.ModelCandidate{
				BrandName:      oc.BrandName,
				EntityName:     oc.EntityName,
				FirstMonth:     oc.FirstMonth,
				LastMonth:      oc.LastMonth,
				MonthsObserved: make(map[models.Month]struct{}, len(oc.MonthsObserved)),
			}
			s[key] = c
		}
		widen(c, oc.FirstMonth)
		widen(c, oc.LastMonth)
		for m := range oc.MonthsObserved {
			observe(c, m, 0)
		}
		c.TotalVolume += oc.TotalVolume
	}
}

func observe(c *models.ModelCandidate, month models.Month, volume int64) {
	widen(c, month)
	c.MonthsObserved[month] = struct{}{}
	c.TotalVolume += volume
}

// widen stretches the month bounds to cover month. Empty bounds adopt it.
func widen(c *models.ModelCandidate, month models.Month) {
	if month == "" {
		return
	}
	if c.FirstMonth == "" || month.Before(c.FirstMonth) {
		c.FirstMonth = month
	}
	if c.LastMonth == "" || c.LastMonth.Before(month) {
		c.LastMonth = month
	}
}

// Sorted returns candidates ordered by brand, then model name.
func (s Set) Sorted() []*models.ModelCandidate {
	out := make([]*models.ModelCandidate, 0, len(s))
	for _, c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BrandName != out[j].BrandName {
			return out[i].BrandName < out[j].BrandName
		}
		return out[i].EntityName < out[j].EntityName
	})
	return out
}
