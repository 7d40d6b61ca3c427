// Package dedup finds existing canonical entities that resemble an incoming
// record and recommends ACCEPT, REJECT or MERGE.
//
// Candidates are narrowed by blocking keys and scored with weighted fuzzy
// field similarity. Callers that persist on ACCEPT hold a Locker over the
// record's blocking keys from FindDuplicates until the write commits.
//
// Import Path: dsr.gov.ph/registry/internal/dedup
package dedup

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
	"dsr.gov.ph/registry/internal/validation"
)

// Candidate is an existing entity sharing at least one blocking key with the
// incoming record. Fields use the same names as ingestion payloads.
type Candidate struct {
	EntityID    string
	BlockingKey string
	Fields      domain.Payload
}

// CandidateSource looks up existing entities by blocking key.
type CandidateSource interface {
	FindCandidates(ctx context.Context, dataType domain.DataType, keys []string, limit int) ([]Candidate, error)
}

// Finder is the deduplication capability the orchestrator depends on.
type Finder interface {
	FindDuplicates(ctx context.Context, dataType domain.DataType, payload domain.Payload) (domain.DeduplicationResult, error)
}

// Config holds the classification thresholds.
type Config struct {
	RejectThreshold float64
	MergeThreshold  float64
	MaxCandidates   int
}

// DefaultConfig returns 0.90 / 0.75 with 50 candidates.
func DefaultConfig() Config {
	return Config{RejectThreshold: 0.90, MergeThreshold: 0.75, MaxCandidates: 50}
}

// fieldWeight is one weighted field comparison.
type fieldWeight struct {
	field  string
	weight float64
	cmp    func(a, b string) float64
}

var (
	individualWeights = []fieldWeight{
		{"firstName", 0.35, compareNames},
		{"lastName", 0.25, compareNames},
		{"dateOfBirth", 0.20, compareDates},
		{"sex", 0.05, compareExact},
		{"address", 0.15, compareNames},
	}
	householdWeights = []fieldWeight{
		{"headOfHouseholdName", 0.60, compareNames},
		{"address", 0.25, compareNames},
		{"barangay", 0.15, compareNames},
	}
)

// identifier fields that short-circuit to a score of 1.0 on exact match.
var identifiers = map[domain.DataType][]string{
	domain.DataTypeIndividual:      {"psn"},
	domain.DataTypeHousehold:       {"householdNumber", "headOfHouseholdPsn"},
	domain.DataTypeEconomicProfile: {"householdId"},
}

func compareNames(a, b string) float64 {
	return JaroWinkler(normalizeText(a), normalizeText(b))
}

func compareExact(a, b string) float64 {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return 1.0
	}
	return 0.0
}

func compareDates(a, b string) float64 {
	ta, okA := validation.ParseDate(a)
	tb, okB := validation.ParseDate(b)
	if !okA || !okB {
		return compareExact(a, b)
	}
	return DateProximity(ta, tb, 30)
}

func sameIdentifier(field, a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if field == "psn" || field == "headOfHouseholdPsn" {
		da, db := digitsOnly(a), digitsOnly(b)
		return da != "" && da == db
	}
	return strings.EqualFold(a, b)
}

// Score compares an incoming payload with a candidate's fields. Fields missing
// on either side drop out of the weight sum.
func Score(dataType domain.DataType, in, existing domain.Payload) (float64, map[string]float64) {
	fieldScores := make(map[string]float64)

	for _, f := range identifiers[dataType] {
		if sameIdentifier(f, in.String(f), existing.String(f)) {
			fieldScores[f] = 1.0
			return 1.0, fieldScores
		}
	}

	var weights []fieldWeight
	switch dataType {
	case domain.DataTypeIndividual:
		weights = individualWeights
	case domain.DataTypeHousehold:
		weights = householdWeights
	default:
		return 0.0, fieldScores
	}

	var sum, total float64
	for _, w := range weights {
		a, b := in.String(w.field), existing.String(w.field)
		if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
			continue
		}
		s := w.cmp(a, b)
		fieldScores[w.field] = s
		sum += s * w.weight
		total += w.weight
	}
	if total == 0 {
		return 0.0, fieldScores
	}
	return sum / total, fieldScores
}

// Engine is the production Finder.
type Engine struct {
	source CandidateSource
	cfg    Config
}

// NewEngine creates an Engine. Zero thresholds fall back to DefaultConfig.
func NewEngine(source CandidateSource, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.RejectThreshold <= 0 {
		cfg.RejectThreshold = def.RejectThreshold
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = def.MergeThreshold
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	return &Engine{source: source, cfg: cfg}
}

// FindDuplicates scores every candidate sharing a blocking key. Candidates at
// or above the merge threshold are reported, best first.
func (e *Engine) FindDuplicates(ctx context.Context, dataType domain.DataType, payload domain.Payload) (domain.DeduplicationResult, error) {
	keys := BlockingKeys(dataType, payload)
	result := domain.DeduplicationResult{
		Recommendation: domain.RecommendAccept,
		Candidates:     []domain.MatchCandidate{},
		BlockingKeys:   keys,
	}
	if len(keys) == 0 {
		e.record(dataType, result)
		return result, nil
	}

	candidates, err := e.source.FindCandidates(ctx, dataType, keys, e.cfg.MaxCandidates)
	if err != nil {
		return result, fmt.Errorf("find candidates: %w", err)
	}

	for _, c := range candidates {
		score, fieldScores := Score(dataType, payload, c.Fields)
		if score < e.cfg.MergeThreshold {
			continue
		}
		var matched []string
		for f, s := range fieldScores {
			if s > 0.5 {
				matched = append(matched, f)
			}
		}
		slices.Sort(matched)
		result.Candidates = append(result.Candidates, domain.MatchCandidate{
			EntityID:      c.EntityID,
			Score:         score,
			FieldScores:   fieldScores,
			Reason:        MatchReason(score),
			BlockingKey:   c.BlockingKey,
			MatchedFields: matched,
		})
	}

	slices.SortStableFunc(result.Candidates, func(a, b domain.MatchCandidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.EntityID, b.EntityID)
	})

	if len(result.Candidates) > 0 {
		result.HasDuplicates = true
		if result.BestScore() >= e.cfg.RejectThreshold {
			result.Recommendation = domain.RecommendReject
		} else {
			result.Recommendation = domain.RecommendMerge
		}
	}

	e.record(dataType, result)
	logger.Debug("Deduplication check completed",
		zap.String("data_type", string(dataType)),
		zap.Int("candidates_scanned", len(candidates)),
		zap.Int("matches", len(result.Candidates)),
		zap.String("recommendation", string(result.Recommendation)),
	)
	return result, nil
}

func (e *Engine) record(dataType domain.DataType, r domain.DeduplicationResult) {
	metrics.DedupScore.WithLabelValues(string(dataType)).Observe(r.BestScore())
	metrics.DedupRecommendations.WithLabelValues(string(dataType), string(r.Recommendation)).Inc()
}
