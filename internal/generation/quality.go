package generation

import (
	"go.uber.org/zap/zapcore"
)

// Issue categories reported by the Transformer.
const (
	CheckInconsistentShare = "Inconsistent mix %"
	CheckMissingData       = "Rows with missing data"
	CheckDuplicates        = "Duplicate/overlapping rows"
)

// Issue is a single line of the quality summary.
type Issue struct {
	Check string `json:"check"`
	Count int    `json:"count"`
}

// QualitySummary reports how a raw batch fared through the Transformer.
type QualitySummary struct {
	TotalRaw int     `json:"total_raw"`
	Valid    int     `json:"valid"`
	Dropped  int     `json:"dropped"`
	Issues   []Issue `json:"issues"`

	MissingColumns  []string       `json:"missing_columns,omitempty"`
	ExtraColumns    []string       `json:"extra_columns,omitempty"`
	MisalignedRows  int            `json:"misaligned_rows"`
	UnparseableRows int            `json:"unparseable_rows"`
	Inconsistent    map[string]int `json:"inconsistent,omitempty"` // per fuel
}

// Count returns the affected-row count for an issue category.
func (q QualitySummary) Count(check string) int {
	for _, issue := range q.Issues {
		if issue.Check == check {
			return issue.Count
		}
	}
	return 0
}

// Lines renders the summary as a check/count table.
func (q QualitySummary) Lines() []Issue {
	lines := []Issue{
		{Check: "Total raw records", Count: q.TotalRaw},
		{Check: "Valid cleaned records", Count: q.Valid},
		{Check: "Dropped / invalid records", Count: q.Dropped},
	}
	return append(lines, q.Issues...)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (q QualitySummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, line := range q.Lines() {
		enc.AddInt(line.Check, line.Count)
	}
	if q.MisalignedRows > 0 {
		enc.AddInt("Rows with misaligned schema", q.MisalignedRows)
	}
	if q.UnparseableRows > 0 {
		enc.AddInt("Rows with unparseable values", q.UnparseableRows)
	}
	return nil
}
