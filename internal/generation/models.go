package generation

import (
	"time"
)

// Column names as published by the upstream datastore.
const (
	IDColumn         = "_id"
	DateTimeColumn   = "DATETIME"
	GenerationColumn = "GENERATION"

	// DateTimeLayout is the upstream timestamp format (no zone, UTC).
	DateTimeLayout = "2006-01-02T15:04:05"

	percSuffix = "_perc"
)

// FuelColumns are the fuel types whose percentage share is reconciled
// against the absolute generation figures.
var FuelColumns = []string{
	"BIOMASS", "COAL", "GAS", "HYDRO", "IMPORTS",
	"NUCLEAR", "OTHER", "SOLAR", "STORAGE", "WIND_EMB", "WIND",
}

// MetricColumns lists every numeric column of the generation table, in table order.
var MetricColumns = []string{
	"GAS", "COAL", "NUCLEAR", "WIND", "WIND_EMB", "HYDRO", "IMPORTS", "BIOMASS",
	"OTHER", "SOLAR", "STORAGE", "GENERATION", "CARBON_INTENSITY",
	"LOW_CARBON", "ZERO_CARBON", "RENEWABLE", "FOSSIL",

	"GAS_perc", "COAL_perc", "NUCLEAR_perc", "WIND_perc", "WIND_EMB_perc", "HYDRO_perc",
	"IMPORTS_perc", "BIOMASS_perc", "OTHER_perc", "SOLAR_perc", "STORAGE_perc",
	"GENERATION_perc", "LOW_CARBON_perc", "ZERO_CARBON_perc", "RENEWABLE_perc", "FOSSIL_perc",
}

// Columns is the canonical column set: key, timestamp, then metrics.
var Columns = append([]string{IDColumn, DateTimeColumn}, MetricColumns...)

// PercColumn returns the percentage column paired with an absolute column.
func PercColumn(col string) string {
	return col + percSuffix
}

// RawRecord is a single upstream record as decoded from JSON.
// Its keys are not guaranteed to match Columns.
type RawRecord map[string]any

// Generation is one canonical row of the generation mix, one per half-hour.
type Generation struct {
	ID       int64     `db:"_id" json:"_id"`
	DateTime time.Time `db:"DATETIME" json:"DATETIME"`

	Gas             float64 `db:"GAS" json:"GAS"`
	Coal            float64 `db:"COAL" json:"COAL"`
	Nuclear         float64 `db:"NUCLEAR" json:"NUCLEAR"`
	Wind            float64 `db:"WIND" json:"WIND"`
	WindEmb         float64 `db:"WIND_EMB" json:"WIND_EMB"`
	Hydro           float64 `db:"HYDRO" json:"HYDRO"`
	Imports         float64 `db:"IMPORTS" json:"IMPORTS"`
	Biomass         float64 `db:"BIOMASS" json:"BIOMASS"`
	Other           float64 `db:"OTHER" json:"OTHER"`
	Solar           float64 `db:"SOLAR" json:"SOLAR"`
	Storage         float64 `db:"STORAGE" json:"STORAGE"`
	Generation      float64 `db:"GENERATION" json:"GENERATION"`
	CarbonIntensity float64 `db:"CARBON_INTENSITY" json:"CARBON_INTENSITY"`
	LowCarbon       float64 `db:"LOW_CARBON" json:"LOW_CARBON"`
	ZeroCarbon      float64 `db:"ZERO_CARBON" json:"ZERO_CARBON"`
	Renewable       float64 `db:"RENEWABLE" json:"RENEWABLE"`
	Fossil          float64 `db:"FOSSIL" json:"FOSSIL"`

	GasPerc        float64 `db:"GAS_perc" json:"GAS_perc"`
	CoalPerc       float64 `db:"COAL_perc" json:"COAL_perc"`
	NuclearPerc    float64 `db:"NUCLEAR_perc" json:"NUCLEAR_perc"`
	WindPerc       float64 `db:"WIND_perc" json:"WIND_perc"`
	WindEmbPerc    float64 `db:"WIND_EMB_perc" json:"WIND_EMB_perc"`
	HydroPerc      float64 `db:"HYDRO_perc" json:"HYDRO_perc"`
	ImportsPerc    float64 `db:"IMPORTS_perc" json:"IMPORTS_perc"`
	BiomassPerc    float64 `db:"BIOMASS_perc" json:"BIOMASS_perc"`
	OtherPerc      float64 `db:"OTHER_perc" json:"OTHER_perc"`
	SolarPerc      float64 `db:"SOLAR_perc" json:"SOLAR_perc"`
	StoragePerc    float64 `db:"STORAGE_perc" json:"STORAGE_perc"`
	GenerationPerc float64 `db:"GENERATION_perc" json:"GENERATION_perc"`
	LowCarbonPerc  float64 `db:"LOW_CARBON_perc" json:"LOW_CARBON_perc"`
	ZeroCarbonPerc float64 `db:"ZERO_CARBON_perc" json:"ZERO_CARBON_perc"`
	RenewablePerc  float64 `db:"RENEWABLE_perc" json:"RENEWABLE_perc"`
	FossilPerc     float64 `db:"FOSSIL_perc" json:"FOSSIL_perc"`
}

// Metrics returns pointers to the numeric fields in MetricColumns order.
func (g *Generation) Metrics() []*float64 {
	return []*float64{
		&g.Gas, &g.Coal, &g.Nuclear, &g.Wind, &g.WindEmb, &g.Hydro, &g.Imports, &g.Biomass,
		&g.Other, &g.Solar, &g.Storage, &g.Generation, &g.CarbonIntensity,
		&g.LowCarbon, &g.ZeroCarbon, &g.Renewable, &g.Fossil,

		&g.GasPerc, &g.CoalPerc, &g.NuclearPerc, &g.WindPerc, &g.WindEmbPerc, &g.HydroPerc,
		&g.ImportsPerc, &g.BiomassPerc, &g.OtherPerc, &g.SolarPerc, &g.StoragePerc,
		&g.GenerationPerc, &g.LowCarbonPerc, &g.ZeroCarbonPerc, &g.RenewablePerc, &g.FossilPerc,
	}
}

// Values returns the row's values in Columns order, ready to bind to a statement.
func (g *Generation) Values() []any {
	metrics := g.Metrics()
	vals := make([]any, 0, len(Columns))
	vals = append(vals, g.ID, g.DateTime)
	for _, m := range metrics {
		vals = append(vals, *m)
	}
	return vals
}

// Raw renders the row back into the upstream record shape.
func (g *Generation) Raw() RawRecord {
	r := make(RawRecord, len(Columns))
	r[IDColumn] = g.ID
	r[DateTimeColumn] = g.DateTime.UTC().Format(DateTimeLayout)
	for i, m := range g.Metrics() {
		r[MetricColumns[i]] = *m
	}
	return r
}

// Metrics summarises a single pipeline run.
type Metrics struct {
	TotalFetched  int   `json:"total_fetched"`
	ValidRecords  int   `json:"valid_records"`
	LastFetchedID int64 `json:"last_fetched_id"`
}

// RunHistory is one row of the pipeline_run_history table.
type RunHistory struct {
	ID            int64      `db:"id" json:"id"`
	RunStart      time.Time  `db:"run_start" json:"run_start"`
	RunStop       *time.Time `db:"run_stop" json:"run_stop,omitempty"`
	LastFetchedID *int64     `db:"last_fetched_id" json:"last_fetched_id,omitempty"`
	TotalFetched  int        `db:"total_fetched" json:"total_fetched"`
	ValidRecords  int        `db:"valid_records" json:"valid_records"`
	Success       bool       `db:"success" json:"success"`
	ErrorMessage  *string    `db:"error_message" json:"error_message,omitempty"`
}

// InProgress reports whether the run has not been finalised yet.
func (r RunHistory) InProgress() bool {
	return r.RunStop == nil
}
