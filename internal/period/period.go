// Package period decodes a temporal composition schema into the set of
// half-open periods covering a date range (§3, §4.1, §8 round-trip law).
package period

import (
	"fmt"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/models"
)

const (
	// SchemaMonthly emits one period per calendar month intersecting the
	// requested range.
	SchemaMonthly = "M"
	// SchemaCyclic emits fixed-length windows anchored at the start of the
	// year; the final period of the year is clipped to the year boundary.
	SchemaCyclic = "cyclic"
)

// Schema is the decoded temporal composition schema (§3).
type Schema struct {
	Kind string // SchemaMonthly or SchemaCyclic
	Step int    // day count, only meaningful for SchemaCyclic
}

// Decode produces the ordered, non-overlapping periods covering
// [start, end] inclusive of any period that intersects either endpoint.
func Decode(schema Schema, start, end time.Time) ([]models.Period, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("period: end %s before start %s", end, start)
	}
	switch schema.Kind {
	case SchemaMonthly:
		return decodeMonthly(start, end), nil
	case SchemaCyclic:
		if schema.Step <= 0 {
			return nil, fmt.Errorf("period: cyclic schema requires step > 0, got %d", schema.Step)
		}
		return decodeCyclic(schema.Step, start, end), nil
	default:
		return nil, fmt.Errorf("period: unknown schema kind %q", schema.Kind)
	}
}

// decodeMonthly walks whole calendar months from the first of start's
// month through the last month containing end. Periods are not clipped:
// each is a full month [first of month, first of next month).
func decodeMonthly(start, end time.Time) []models.Period {
	var periods []models.Period
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(end) {
		next := cursor.AddDate(0, 1, 0)
		periods = append(periods, models.Period{Start: cursor, End: next})
		cursor = next
	}
	return periods
}

// decodeCyclic walks fixed stepDays windows anchored at Jan 1 of start's
// year, clipping the final window of each year to the year boundary.
func decodeCyclic(stepDays int, start, end time.Time) []models.Period {
	var periods []models.Period
	yearStart := time.Date(start.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	cursor := yearStart
	step := time.Duration(stepDays) * 24 * time.Hour

	for cursor.Before(end) || cursor.Equal(end) {
		next := cursor.Add(step)
		yearEnd := time.Date(cursor.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC)
		if next.After(yearEnd) {
			next = yearEnd
		}
		if !next.Before(start) && cursor.Before(end) {
			periods = append(periods, models.Period{Start: cursor, End: next})
		}
		if next.Equal(yearEnd) {
			cursor = yearEnd
		} else {
			cursor = next
		}
	}
	return periods
}
