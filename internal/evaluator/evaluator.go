package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/models"
)

// Sample is one fixed query with its expected relevant passages, the unit of
// the regression suite.
type Sample struct {
	ID                 string   `json:"id"`
	BookID             string   `json:"book_id"`
	Query              string   `json:"query"`
	ChapterHint        string   `json:"chapter_hint,omitempty"`
	ExpectedPassageIDs []string `json:"expected_passage_ids"`
	Keywords           []string `json:"keywords,omitempty"`
}

// QueryResult holds the measured metrics for one sample.
type QueryResult struct {
	SampleID   string        `json:"sample_id"`
	Query      string        `json:"query"`
	Returned   int           `json:"returned"`
	Precision  float64       `json:"precision"`
	Recall     float64       `json:"recall"`
	F1         float64       `json:"f1"`
	Relevance  float64       `json:"relevance"`
	Latency    time.Duration `json:"latency"`
	MissedIDs  []string      `json:"missed_ids,omitempty"`
	RetrieveOK bool          `json:"retrieve_ok"`
}

// Report aggregates one full evaluation run.
type Report struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	Results       []QueryResult `json:"results"`
	MeanPrecision float64       `json:"mean_precision"`
	MeanRecall    float64       `json:"mean_recall"`
	MeanF1        float64       `json:"mean_f1"`
	MeanRelevance float64       `json:"mean_relevance"`
	MeanLatency   time.Duration `json:"mean_latency"`
	Composite     float64       `json:"composite"`
	Evaluated     int           `json:"evaluated"`
}

// retrieveRunner abstracts the live query path under evaluation.
type retrieveRunner interface {
	Retrieve(ctx context.Context, bookID, queryText string, opts models.RetrieveOptions) (models.ContextBlock, error)
}

// passageLookup resolves expected-passage text from the store.
type passageLookup interface {
	GetPassages(ctx context.Context, ids []string) ([]models.Passage, error)
}

// Evaluator replays fixed samples through the full pipeline and scores the
// output. It gates parameter changes: chunk sizes, lambda, thresholds and
// budgets only land when the composite score holds against the baseline.
type Evaluator struct {
	runner retrieveRunner
	lookup passageLookup
	cfg    config.EvaluatorConfig
	logger *log.Logger
}

// New builds an evaluator. lookup may be nil; samples then need explicit
// keywords for the relevance metric.
func New(runner retrieveRunner, lookup passageLookup, cfg config.EvaluatorConfig, logger *log.Logger) (*Evaluator, error) {
	if runner == nil {
		return nil, fmt.Errorf("evaluator requires a retrieval runner")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EVAL] ", log.LstdFlags)
	}
	return &Evaluator{runner: runner, lookup: lookup, cfg: cfg.Normalize(), logger: logger}, nil
}

// LoadSamples reads the fixed sample set from disk.
func LoadSamples(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample file: %w", err)
	}
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse sample file: %w", err)
	}
	return samples, nil
}

// Run executes every sample and aggregates metrics. Individual retrieval
// failures score zero and are kept in the report rather than aborting the
// run, so a flaky dependency shows up as a regression instead of hiding one.
func (e *Evaluator) Run(ctx context.Context, samples []Sample) (Report, error) {
	if len(samples) == 0 {
		return Report{}, fmt.Errorf("no evaluation samples supplied")
	}
	report := Report{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}

	for _, sample := range samples {
		query := strings.TrimSpace(sample.Query)
		if query == "" {
			continue
		}
		if len(sample.Keywords) == 0 {
			sample.Keywords = e.expectedKeywords(ctx, sample)
		}
		start := time.Now()
		block, err := e.runner.Retrieve(ctx, sample.BookID, query, models.RetrieveOptions{ChapterHint: sample.ChapterHint})
		latency := time.Since(start)

		result := QueryResult{SampleID: sample.ID, Query: sample.Query, Latency: latency}
		if err != nil {
			e.logger.Printf("sample %s: retrieve failed: %v", sample.ID, err)
		} else {
			result.RetrieveOK = true
			result.Returned = len(block.Passages)
			result.Precision, result.Recall, result.MissedIDs = precisionRecall(sample.ExpectedPassageIDs, block)
			result.F1 = f1(result.Precision, result.Recall)
			result.Relevance = keywordRelevance(sample, block)
		}

		report.Results = append(report.Results, result)
		report.MeanPrecision += result.Precision
		report.MeanRecall += result.Recall
		report.MeanF1 += result.F1
		report.MeanRelevance += result.Relevance
		report.MeanLatency += result.Latency
		report.Evaluated++
		e.logger.Printf("sample %s: precision=%.2f recall=%.2f f1=%.2f relevance=%.2f latency=%s",
			sample.ID, result.Precision, result.Recall, result.F1, result.Relevance, latency)
	}

	if report.Evaluated > 0 {
		n := float64(report.Evaluated)
		report.MeanPrecision /= n
		report.MeanRecall /= n
		report.MeanF1 /= n
		report.MeanRelevance /= n
		report.MeanLatency /= time.Duration(report.Evaluated)
	}
	report.Composite = compositeScore(report)
	return report, nil
}

// WriteReport persists the full run as a diffable JSON document and returns
// its path.
func (e *Evaluator) WriteReport(report Report) (string, error) {
	if err := os.MkdirAll(e.cfg.ReportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(e.cfg.ReportDir, fmt.Sprintf("eval_%s_%s.json", report.CreatedAt.Format("20060102T150405"), report.ID[:8]))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// compositeScore folds the quality signals into the single gating number.
// Latency is deliberately excluded: it is reported for visibility but a
// faster wrong answer must never offset a quality drop.
func compositeScore(r Report) float64 {
	return 0.4*r.MeanF1 + 0.3*r.MeanPrecision + 0.3*r.MeanRelevance
}

func precisionRecall(expected []string, block models.ContextBlock) (precision, recall float64, missed []string) {
	if len(block.Passages) == 0 {
		return 0, 0, append([]string(nil), expected...)
	}
	expectedSet := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		expectedSet[strings.TrimSpace(id)] = struct{}{}
	}
	returnedSet := make(map[string]struct{}, len(block.Passages))
	var relevant int
	for _, sp := range block.Passages {
		returnedSet[sp.Passage.ID] = struct{}{}
		if _, ok := expectedSet[sp.Passage.ID]; ok {
			relevant++
		}
	}
	precision = float64(relevant) / float64(len(block.Passages))
	if len(expectedSet) > 0 {
		var hit int
		for id := range expectedSet {
			if _, ok := returnedSet[id]; ok {
				hit++
			} else {
				missed = append(missed, id)
			}
		}
		recall = float64(hit) / float64(len(expectedSet))
	}
	return precision, recall, missed
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// expectedKeywords derives relevance keywords for a sample that carries none,
// by pulling its expected passages from the store and keeping their most
// distinctive terms. Lookup failures fall back to an empty keyword set: the
// sample then scores zero relevance, which is visible in the report rather
// than silently inflating the composite.
func (e *Evaluator) expectedKeywords(ctx context.Context, sample Sample) []string {
	if e.lookup == nil || len(sample.ExpectedPassageIDs) == 0 {
		return nil
	}
	passages, err := e.lookup.GetPassages(ctx, sample.ExpectedPassageIDs)
	if err != nil {
		e.logger.Printf("sample %s: expected passage lookup failed: %v", sample.ID, err)
		return nil
	}
	var texts []string
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return distinctiveTerms(strings.Join(texts, " "), maxDerivedKeywords)
}

const maxDerivedKeywords = 5

// distinctiveTerms returns up to limit unique lowercased words, longest first,
// ties alphabetical. Longer words stand in for distinctiveness well enough
// here: function words are short, domain terms rarely are.
func distinctiveTerms(text string, limit int) []string {
	seen := map[string]bool{}
	var terms []string
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(field) < 4 || seen[field] {
			continue
		}
		seen[field] = true
		terms = append(terms, field)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

// keywordRelevance scores keyword overlap between the sample's keywords and
// the returned passages using an in-memory bleve index, so stemming and
// tokenisation match real search behaviour instead of raw substring checks.
func keywordRelevance(sample Sample, block models.ContextBlock) float64 {
	if len(sample.Keywords) == 0 || len(block.Passages) == 0 {
		return 0
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return 0
	}
	defer index.Close()
	for _, sp := range block.Passages {
		_ = index.Index(sp.Passage.ID, map[string]string{"text": sp.Passage.Text})
	}

	var hits int
	for _, keyword := range sample.Keywords {
		query := bleve.NewMatchQuery(keyword)
		req := bleve.NewSearchRequest(query)
		req.Size = 1
		res, err := index.Search(req)
		if err == nil && res.Total > 0 {
			hits++
		}
	}
	return float64(hits) / float64(len(sample.Keywords))
}
