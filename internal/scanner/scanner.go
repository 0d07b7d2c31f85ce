// Package scanner walks the (region, coordinate, query, page) search space
// in a deterministic order and can resume from a checkpoint cursor.
package scanner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kosarica/place-service/internal/checkpoint"
)

// Coordinate is a search centre inside a region
type Coordinate struct {
	Label string  `json:"label,omitempty" mapstructure:"label"`
	Lat   float64 `json:"lat" mapstructure:"lat"`
	Lng   float64 `json:"lng" mapstructure:"lng"`
}

// Region groups coordinates. Lower Priority values are scanned first.
type Region struct {
	Name        string       `json:"name" mapstructure:"name"`
	Priority    int          `json:"priority" mapstructure:"priority"`
	Coordinates []Coordinate `json:"coordinates" mapstructure:"coordinates"`
}

// SearchContext identifies one page of one query at one coordinate
type SearchContext struct {
	Region          string
	Coordinate      Coordinate
	CoordinateIndex int
	Query           string
	QueryIndex      int
	Page            int
}

func (sc SearchContext) String() string {
	return fmt.Sprintf("%s[%d]/%q/p%d", sc.Region, sc.CoordinateIndex, sc.Query, sc.Page)
}

// Scanner yields search contexts ordered by region priority, then
// coordinate, then query, then page. It is safe for concurrent use but is
// normally driven by a single pipeline.
type Scanner struct {
	regions  []Region
	queries  []string
	maxPages int

	mu        sync.Mutex
	regionIdx int
	cursor    checkpoint.Cursor
}

// New creates a scanner. Regions without coordinates are dropped; ties in
// priority keep their configured order.
func New(regions []Region, queries []string, maxPages int) *Scanner {
	sorted := make([]Region, 0, len(regions))
	for _, r := range regions {
		if len(r.Coordinates) > 0 {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	if maxPages <= 0 {
		maxPages = 1
	}

	s := &Scanner{
		regions:  sorted,
		queries:  append([]string(nil), queries...),
		maxPages: maxPages,
	}
	s.resetLocked(0, 0)
	return s
}

// Regions returns the scan order
func (s *Scanner) Regions() []Region {
	return append([]Region(nil), s.regions...)
}

// Seed resumes at the position recorded in c. An unknown CurrentRegion
// resumes at the first region not listed as completed.
func (s *Scanner) Seed(c checkpoint.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = c.Clone()
	s.regionIdx = len(s.regions)

	for i, r := range s.regions {
		if r.Name == c.CurrentRegion && !c.RegionCompleted(r.Name) {
			s.regionIdx = i
			s.clampLocked()
			return
		}
	}

	// Region list changed since the checkpoint was written
	for i, r := range s.regions {
		if !c.RegionCompleted(r.Name) {
			s.regionIdx = i
			s.cursor.CurrentRegion = r.Name
			s.cursor.CoordinateIndex = 0
			s.cursor.QueryIndex = 0
			s.cursor.Page = 0
			s.cursor.ItemOffset = 0
			return
		}
	}
}

// clampLocked moves an out-of-range cursor (config shrank) to the next valid position
func (s *Scanner) clampLocked() {
	if s.cursor.Page < 0 {
		s.cursor.Page = 0
	}
	if s.cursor.Page >= s.maxPages || s.cursor.QueryIndex >= len(s.queries) {
		s.cursor.Page = s.maxPages - 1
		s.advanceLocked(true)
		return
	}
	if s.cursor.CoordinateIndex >= len(s.regions[s.regionIdx].Coordinates) {
		s.finishRegionLocked()
	}
}

// Current returns the search context at the cursor. ok is false once the
// pass is finished (or there is nothing to scan).
func (s *Scanner) Current() (SearchContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Scanner) currentLocked() (SearchContext, bool) {
	if s.regionIdx >= len(s.regions) || len(s.queries) == 0 {
		return SearchContext{}, false
	}
	region := s.regions[s.regionIdx]
	return SearchContext{
		Region:          region.Name,
		Coordinate:      region.Coordinates[s.cursor.CoordinateIndex],
		CoordinateIndex: s.cursor.CoordinateIndex,
		Query:           s.queries[s.cursor.QueryIndex],
		QueryIndex:      s.cursor.QueryIndex,
		Page:            s.cursor.Page,
	}, true
}

// Advance moves past the current page. exhausted marks the query as having
// no further pages; otherwise the next page follows until maxPages.
func (s *Scanner) Advance(exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(exhausted)
}

func (s *Scanner) advanceLocked(exhausted bool) {
	if s.regionIdx >= len(s.regions) {
		return
	}
	s.cursor.ItemOffset = 0

	if !exhausted && s.cursor.Page+1 < s.maxPages {
		s.cursor.Page++
		return
	}

	s.cursor.Page = 0
	s.cursor.QueryIndex++
	if s.cursor.QueryIndex < len(s.queries) {
		return
	}

	s.cursor.QueryIndex = 0
	s.cursor.CoordinateIndex++
	if s.cursor.CoordinateIndex < len(s.regions[s.regionIdx].Coordinates) {
		return
	}
	s.finishRegionLocked()
}

func (s *Scanner) finishRegionLocked() {
	name := s.regions[s.regionIdx].Name
	if !s.cursor.RegionCompleted(name) {
		s.cursor.CompletedRegions = append(s.cursor.CompletedRegions, name)
	}
	s.cursor.CoordinateIndex = 0
	s.cursor.QueryIndex = 0
	s.cursor.Page = 0
	s.cursor.ItemOffset = 0

	for s.regionIdx++; s.regionIdx < len(s.regions); s.regionIdx++ {
		if !s.cursor.RegionCompleted(s.regions[s.regionIdx].Name) {
			s.cursor.CurrentRegion = s.regions[s.regionIdx].Name
			return
		}
	}
	s.cursor.CurrentRegion = ""
}

// SetItemOffset records how many items of the current page are consumed
func (s *Scanner) SetItemOffset(n int) {
	s.mu.Lock()
	s.cursor.ItemOffset = n
	s.mu.Unlock()
}

// AddProcessed adds n to the cursor's running total
func (s *Scanner) AddProcessed(n int) {
	s.mu.Lock()
	s.cursor.TotalProcessed += int64(n)
	s.mu.Unlock()
}

// RecordError keeps msg in the cursor's recent error list
func (s *Scanner) RecordError(msg string) {
	s.mu.Lock()
	s.cursor.AddError(msg)
	s.mu.Unlock()
}

// Cursor returns a snapshot of the current position
func (s *Scanner) Cursor() checkpoint.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Clone()
}

// Done reports whether the pass is finished
func (s *Scanner) Done() bool {
	_, ok := s.Current()
	return !ok
}

// Reset starts a new pass from the first region
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(s.cursor.Pass+1, s.cursor.TotalProcessed)
}

func (s *Scanner) resetLocked(pass int, total int64) {
	s.regionIdx = 0
	s.cursor = checkpoint.Cursor{Pass: pass, TotalProcessed: total}
	if len(s.regions) > 0 {
		s.cursor.CurrentRegion = s.regions[0].Name
	}
}
