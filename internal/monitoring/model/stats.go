package model

import (
	"encoding/json"
	"time"
)

// Log levels counted as errors.
var ErrorLevels = []string{"ERROR", "FATAL"}

// AggregateQuery describes one trailing-window count against the log index.
// Zero values disable the corresponding filter.
type AggregateQuery struct {
	Window       time.Duration
	Levels       []string // terms filter on the log level
	MinLatencyMs int      // response_time >= MinLatencyMs
	GroupBy      string   // terms aggregation field, empty for an unsegmented count
	Size         int      // number of groups to return
}

// Bucket is one (key, count) pair ranked by count descending.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"doc_count"`
}

// AggregateResult holds the total and, for grouped queries, the ranked groups.
type AggregateResult struct {
	Total  int64    `json:"total"`
	Groups []Bucket `json:"groups,omitempty"`
}

// TimelineBucket is one interval of the error timeline.
type TimelineBucket struct {
	Key         int64  `json:"key"`
	KeyAsString string `json:"key_as_string"`
	Count       int64  `json:"doc_count"`
	ErrorCount  int64  `json:"error_count"`
}

// Snapshot is the aggregate view served by /v1/stats and broadcast each tick.
type Snapshot struct {
	TotalLogs     int64            `json:"total_logs"`
	LogLevels     []Bucket         `json:"log_levels"`
	Services      []Bucket         `json:"services"`
	Environments  []Bucket         `json:"environments"`
	ErrorTimeline []TimelineBucket `json:"error_timeline"`
}

// Event is the raw _source of a matching log document.
type Event = json.RawMessage
