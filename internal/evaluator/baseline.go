package evaluator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// BaselineVersion identifies the baseline file schema.
const BaselineVersion = 1

// Baseline is the versioned quality record new runs are compared against.
// It lives outside the runtime path and is meant to be committed, so the
// format stays plain indented JSON.
type Baseline struct {
	Version       int           `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	ReportID      string        `json:"report_id"`
	MeanPrecision float64       `json:"mean_precision"`
	MeanRecall    float64       `json:"mean_recall"`
	MeanF1        float64       `json:"mean_f1"`
	MeanRelevance float64       `json:"mean_relevance"`
	MeanLatency   time.Duration `json:"mean_latency"`
	Composite     float64       `json:"composite"`
}

// Comparison reports how a run moved relative to the baseline. A regression
// beyond tolerance sets Regressed; it is reported, never thrown.
type Comparison struct {
	Baseline       Baseline `json:"baseline"`
	Run            Report   `json:"-"`
	PrecisionDelta float64  `json:"precision_delta_pct"`
	RecallDelta    float64  `json:"recall_delta_pct"`
	F1Delta        float64  `json:"f1_delta_pct"`
	RelevanceDelta float64  `json:"relevance_delta_pct"`
	LatencyDelta   float64  `json:"latency_delta_pct"`
	CompositeDelta float64  `json:"composite_delta_pct"`
	Regressed      bool     `json:"regressed"`
}

// BaselineFromReport freezes a run as the new baseline.
func BaselineFromReport(r Report) Baseline {
	return Baseline{
		Version:       BaselineVersion,
		CreatedAt:     r.CreatedAt,
		ReportID:      r.ID,
		MeanPrecision: r.MeanPrecision,
		MeanRecall:    r.MeanRecall,
		MeanF1:        r.MeanF1,
		MeanRelevance: r.MeanRelevance,
		MeanLatency:   r.MeanLatency,
		Composite:     r.Composite,
	}
}

// LoadBaseline reads the stored baseline.
func LoadBaseline(path string) (Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Baseline{}, fmt.Errorf("read baseline: %w", err)
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, fmt.Errorf("parse baseline: %w", err)
	}
	if b.Version != BaselineVersion {
		return Baseline{}, fmt.Errorf("unsupported baseline version %d", b.Version)
	}
	return b, nil
}

// SaveBaseline writes the baseline as indented JSON.
func SaveBaseline(path string, b Baseline) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Compare computes percentage deltas against the baseline and flags a
// regression when the composite score drops by more than tolerance (a
// fraction: 0.05 allows a 5% drop).
func Compare(b Baseline, run Report, tolerance float64) Comparison {
	cmp := Comparison{
		Baseline:       b,
		Run:            run,
		PrecisionDelta: pctDelta(b.MeanPrecision, run.MeanPrecision),
		RecallDelta:    pctDelta(b.MeanRecall, run.MeanRecall),
		F1Delta:        pctDelta(b.MeanF1, run.MeanF1),
		RelevanceDelta: pctDelta(b.MeanRelevance, run.MeanRelevance),
		LatencyDelta:   pctDelta(float64(b.MeanLatency), float64(run.MeanLatency)),
		CompositeDelta: pctDelta(b.Composite, run.Composite),
	}
	if b.Composite > 0 && run.Composite < b.Composite*(1-tolerance) {
		cmp.Regressed = true
	}
	return cmp
}

func pctDelta(baseline, current float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (current - baseline) / baseline * 100
}
