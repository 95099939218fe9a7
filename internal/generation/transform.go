package generation

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTolerance is the allowed gap, in percentage points, between a reported
// fuel share and the share derived from absolute generation.
const DefaultTolerance = 1.0

// TransformOptions configures a Transformer.
type TransformOptions struct {
	// Tolerance in percentage points before a reported share is considered inconsistent.
	Tolerance float64
	// Reconcile overwrites inconsistent shares with the derived value. When false
	// inconsistencies are only counted.
	Reconcile bool
}

// DefaultTransformOptions returns the options used by the scheduled pipeline.
func DefaultTransformOptions() TransformOptions {
	return TransformOptions{
		Tolerance: DefaultTolerance,
		Reconcile: true,
	}
}

// Transformer cleans, validates and reconciles batches of raw upstream records.
// It performs no I/O.
type Transformer struct {
	opts   TransformOptions
	logger *zap.Logger
}

// NewTransformer creates a Transformer. A nil logger discards output.
func NewTransformer(opts TransformOptions, logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{
		opts:   opts,
		logger: logger.Named("transform"),
	}
}

// Transform turns raw records into canonical rows ordered by ascending _id.
//
// Stages run in order: schema alignment, parse and cast, percentage
// reconciliation, missing-value handling and deduplication. Each stage's
// affected-row count is reported in the returned QualitySummary.
func (t *Transformer) Transform(raw []RawRecord) ([]Generation, QualitySummary) {
	if len(raw) == 0 {
		t.logger.Warn("no records to transform")
		return nil, QualitySummary{}
	}

	start := time.Now()
	t.logger.Info("transforming records", zap.Int("records", len(raw)))

	aligned, alignment := alignSchema(raw, Columns)
	if len(alignment.Missing) > 0 {
		t.logger.Warn("adding missing columns as nulls", zap.Strings("columns", alignment.Missing))
	}
	if len(alignment.Extra) > 0 {
		t.logger.Info("dropping unexpected columns", zap.Strings("columns", alignment.Extra))
	}

	f, unparseable := parseAndCast(aligned, Columns)

	inconsistent := reconcilePercentages(f, t.opts.Tolerance, t.opts.Reconcile)
	for _, fuel := range FuelColumns {
		if n := inconsistent[fuel]; n > 0 {
			t.logger.Warn("inconsistent fuel share",
				zap.String("fuel", fuel),
				zap.Int("rows", n),
				zap.Float64("tolerance", t.opts.Tolerance),
				zap.Bool("corrected", t.opts.Reconcile),
			)
		}
	}

	beforeMissing := len(f.rows)
	missing := handleMissingValues(f)
	if missing > 0 {
		t.logger.Warn("rows with null values",
			zap.Int("rows", missing),
			zap.Int("dropped", beforeMissing-len(f.rows)),
		)
	}

	duplicates := deduplicate(f)
	if duplicates > 0 {
		t.logger.Info("removed duplicate or overlapping rows", zap.Int("rows", duplicates))
	}

	rows := f.generations()

	summary := QualitySummary{
		TotalRaw:        len(raw),
		Valid:           len(rows),
		Dropped:         len(raw) - len(rows),
		MissingColumns:  alignment.Missing,
		ExtraColumns:    alignment.Extra,
		MisalignedRows:  alignment.Rows,
		UnparseableRows: unparseable,
		Inconsistent:    inconsistent,
	}
	summary.Issues = []Issue{
		{Check: CheckInconsistentShare, Count: sumCounts(inconsistent)},
		{Check: CheckMissingData, Count: missing},
		{Check: CheckDuplicates, Count: duplicates},
	}

	t.logger.Info("transformation complete",
		zap.Object("quality", summary),
		zap.Duration("took", time.Since(start)),
	)

	return rows, summary
}

// frame is the working table the stages operate on. A nil value is a null.
type frame struct {
	columns []string
	rows    []record
}

type record struct {
	id       *int64
	datetime *time.Time
	values   map[string]*float64
}

func (f *frame) has(col string) bool {
	for _, c := range f.columns {
		if c == col {
			return true
		}
	}
	return false
}

func (r record) hasNull(columns []string) bool {
	for _, c := range columns {
		switch c {
		case IDColumn:
			if r.id == nil {
				return true
			}
		case DateTimeColumn:
			if r.datetime == nil {
				return true
			}
		default:
			if r.values[c] == nil {
				return true
			}
		}
	}
	return false
}

// generations converts the frame to canonical rows. Rows must have a non-null key and timestamp.
func (f *frame) generations() []Generation {
	out := make([]Generation, 0, len(f.rows))
	for _, r := range f.rows {
		g := Generation{ID: *r.id, DateTime: *r.datetime}
		for i, m := range g.Metrics() {
			if v := r.values[MetricColumns[i]]; v != nil {
				*m = *v
			}
		}
		out = append(out, g)
	}
	return out
}

type alignment struct {
	Missing []string // expected columns absent from the whole batch
	Extra   []string // unexpected columns dropped
	Rows    int      // rows lacking an expected column or carrying an extra one
}

// alignSchema projects every record onto the expected columns. Missing columns
// become nulls and unexpected ones are dropped.
func alignSchema(raw []RawRecord, expected []string) ([]RawRecord, alignment) {
	want := make(map[string]struct{}, len(expected))
	for _, c := range expected {
		want[c] = struct{}{}
	}

	var a alignment
	seen := make(map[string]struct{}, len(expected))
	extra := make(map[string]struct{})
	out := make([]RawRecord, 0, len(raw))

	for _, r := range raw {
		affected := false
		for k := range r {
			if _, ok := want[k]; ok {
				seen[k] = struct{}{}
				continue
			}
			extra[k] = struct{}{}
			affected = true
		}

		aligned := make(RawRecord, len(expected))
		for _, c := range expected {
			v, ok := r[c]
			if !ok {
				affected = true
			}
			aligned[c] = v
		}
		if affected {
			a.Rows++
		}
		out = append(out, aligned)
	}

	for _, c := range expected {
		if _, ok := seen[c]; !ok {
			a.Missing = append(a.Missing, c)
		}
	}
	for k := range extra {
		a.Extra = append(a.Extra, k)
	}
	sort.Strings(a.Extra)

	return out, a
}

// parseAndCast types the aligned records and sorts them by timestamp, nulls first.
// Values that cannot be parsed become nulls; the number of rows with at least
// one such value is returned.
func parseAndCast(aligned []RawRecord, columns []string) (*frame, int) {
	f := &frame{
		columns: columns,
		rows:    make([]record, 0, len(aligned)),
	}

	unparseable := 0
	for _, raw := range aligned {
		r := record{values: make(map[string]*float64, len(columns))}
		bad := false

		for _, c := range columns {
			v := raw[c]
			switch c {
			case IDColumn:
				if id, ok := toInt64(v); ok {
					r.id = &id
				} else if v != nil {
					bad = true
				}
			case DateTimeColumn:
				if ts, ok := toTime(v); ok {
					r.datetime = &ts
				} else if v != nil {
					bad = true
				}
			default:
				if fv, ok := toFloat64(v); ok {
					r.values[c] = &fv
				} else if v != nil {
					bad = true
				}
			}
		}

		if bad {
			unparseable++
		}
		f.rows = append(f.rows, r)
	}

	sort.SliceStable(f.rows, func(i, j int) bool {
		return timeLess(f.rows[i].datetime, f.rows[j].datetime)
	})

	return f, unparseable
}

// reconcilePercentages compares each reported fuel share with the share derived
// from absolute generation and, when apply is set, replaces shares that differ by
// more than tolerance. It returns the number of inconsistent rows per fuel.
func reconcilePercentages(f *frame, tolerance float64, apply bool) map[string]int {
	counts := make(map[string]int)
	if !f.has(GenerationColumn) {
		return counts
	}

	for _, fuel := range FuelColumns {
		perc := PercColumn(fuel)
		if !f.has(fuel) || !f.has(perc) {
			continue
		}

		for i := range f.rows {
			vals := f.rows[i].values
			abs, total, stored := vals[fuel], vals[GenerationColumn], vals[perc]
			if abs == nil || total == nil || stored == nil || *total == 0 {
				continue
			}

			calc := 100 * *abs / *total
			if math.Abs(calc-*stored) > tolerance {
				counts[fuel]++
				if apply {
					vals[perc] = &calc
				}
			}
		}
	}

	return counts
}

// handleMissingValues drops rows without a key or timestamp and fills the
// remaining null metrics with 0. It returns how many rows had any null.
func handleMissingValues(f *frame) int {
	nullRows := 0
	kept := f.rows[:0]

	for _, r := range f.rows {
		if !r.hasNull(f.columns) {
			kept = append(kept, r)
			continue
		}
		nullRows++

		if r.id == nil || r.datetime == nil {
			continue
		}
		for _, c := range f.columns {
			if c == IDColumn || c == DateTimeColumn {
				continue
			}
			if r.values[c] == nil {
				zero := 0.0
				r.values[c] = &zero
			}
		}
		kept = append(kept, r)
	}

	f.rows = kept
	return nullRows
}

// deduplicate keeps, per _id, the row with the latest timestamp and then, per
// timestamp, the row with the greatest _id. Rows come out in ascending _id order.
// Every row must have a non-null key and timestamp.
func deduplicate(f *frame) int {
	before := len(f.rows)

	sort.SliceStable(f.rows, func(i, j int) bool {
		return timeLess(f.rows[i].datetime, f.rows[j].datetime)
	})
	lastByID := make(map[int64]int, len(f.rows))
	for i, r := range f.rows {
		lastByID[*r.id] = i
	}
	rows := make([]record, 0, len(lastByID))
	for i, r := range f.rows {
		if lastByID[*r.id] == i {
			rows = append(rows, r)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return *rows[i].id < *rows[j].id
	})
	lastByTime := make(map[int64]int, len(rows))
	for i, r := range rows {
		lastByTime[r.datetime.UnixNano()] = i
	}
	out := make([]record, 0, len(lastByTime))
	for i, r := range rows {
		if lastByTime[r.datetime.UnixNano()] == i {
			out = append(out, r)
		}
	}

	f.rows = out
	return before - len(out)
}

func timeLess(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.ParseInLocation(DateTimeLayout, strings.TrimSpace(t), time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	case time.Time:
		return t.UTC(), true
	default:
		return time.Time{}, false
	}
}

func toFloat64(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if id, err := n.Int64(); err == nil {
			return id, true
		}
		return 0, false
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
