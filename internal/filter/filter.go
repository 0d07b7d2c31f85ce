// Package filter decides which search candidates are kept.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/places"
	"github.com/kosarica/place-service/internal/types"
)

var (
	ErrMissingSourceID = errors.New("candidate has no source id")
	ErrMissingName     = errors.New("candidate has no name")
	ErrBadCoordinates  = errors.New("candidate coordinates out of range")
)

// CategoryFilter drops candidates in excluded categories. Matching ignores
// case and diacritics and also checks the candidate's secondary categories.
type CategoryFilter struct {
	excluded map[string]struct{}
}

// NewCategoryFilter builds a filter from an exclusion list
func NewCategoryFilter(excluded []string) *CategoryFilter {
	f := &CategoryFilter{excluded: make(map[string]struct{}, len(excluded))}
	for _, c := range excluded {
		if k := places.Fold(c); k != "" {
			f.excluded[k] = struct{}{}
		}
	}
	return f
}

// Allow reports whether c passes the exclusion list
func (f *CategoryFilter) Allow(c types.Candidate) bool {
	if f == nil || len(f.excluded) == 0 {
		return true
	}
	if _, ok := f.excluded[places.Fold(c.Category)]; ok {
		return false
	}
	for _, cat := range c.Categories {
		if _, ok := f.excluded[places.Fold(cat)]; ok {
			return false
		}
	}
	return true
}

// Validate checks the fields a place needs. Failures are validation faults.
func Validate(c types.Candidate) error {
	switch {
	case strings.TrimSpace(c.SourceID) == "":
		return faults.Validation(ErrMissingSourceID)
	case strings.TrimSpace(c.Name) == "":
		return faults.Validation(fmt.Errorf("%w: %s", ErrMissingName, c.SourceID))
	case c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180:
		return faults.Validation(fmt.Errorf("%w: %s (%f, %f)", ErrBadCoordinates, c.SourceID, c.Lat, c.Lng))
	}
	return nil
}
