package models

import (
	"sort"
	"time"
)

// RetailerStatus captures how a single retailer behaved during one dispatch.
type RetailerStatus struct {
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	ErrorType string        `json:"error_type,omitempty"`
	Count     int           `json:"count"`
	Duration  time.Duration `json:"duration"`
}

// AggregationOutcome holds the union of listings from one aggregation pass
// plus the per-retailer report. It is never persisted.
type AggregationOutcome struct {
	Query     string
	Listings  []RawListing
	Retailers map[string]RetailerStatus
}

// Failed returns the sorted names of retailers that did not answer
// successfully.
func (o AggregationOutcome) Failed() []string {
	var out []string
	for name, status := range o.Retailers {
		if !status.OK {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RefreshReport holds the overall result of one refresh sweep.
type RefreshReport struct {
	StartTime    time.Time
	EndTime      time.Time
	Skipped      bool
	ProductCount int
	PairCount    int
	Recorded     int
	Failed       int
	Empty        int
	ErrorsByType map[string]int
}
