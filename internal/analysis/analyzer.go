package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMissingDataset is returned when Analyze is called without a
// processed dataset payload
var ErrMissingDataset = errors.New("no processed dataset to analyze")

// TemplatedAnalyzer implements the AI/statistics stage with templated
// per-domain narratives derived from the processed dataset payload.
type TemplatedAnalyzer struct {
	logger *slog.Logger
}

// NewTemplatedAnalyzer creates an analyzer with dependency injection
func NewTemplatedAnalyzer(logger *slog.Logger) *TemplatedAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplatedAnalyzer{
		logger: logger.With(slog.String("component", "analysis.analyzer")),
	}
}

// Analyze turns a processed dataset payload into an insights payload.
// It honors context cancellation so the orchestrator's stage timeout
// applies.
func (a *TemplatedAnalyzer) Analyze(ctx context.Context, dataset map[string]interface{}, domain string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dataset == nil {
		return nil, ErrMissingDataset
	}

	rows, _ := dataset["rows"].(int)
	columns, _ := dataset["columns"].(int)
	completeness := 100.0
	duplicates := 0
	if quality, ok := dataset["quality"].(map[string]interface{}); ok {
		if c, ok := quality["completeness"].(float64); ok {
			completeness = c
		}
		if d, ok := quality["duplicate_rows"].(int); ok {
			duplicates = d
		}
	}

	numericColumns := 0
	if types, ok := dataset["column_types"].(map[string]string); ok {
		for _, t := range types {
			if t == "numeric" {
				numericColumns++
			}
		}
	}

	qualityScore := completeness
	if rows > 0 && duplicates > 0 {
		qualityScore -= float64(duplicates) / float64(rows) * 10
	}
	if qualityScore < 0 {
		qualityScore = 0
	}

	insights := map[string]interface{}{
		"domain":             domainOrGeneric(domain),
		"headline":           headlineFor(domain, rows, columns),
		"data_quality_score": qualityScore,
		"kpi": map[string]interface{}{
			"rows_analyzed":   rows,
			"columns":         columns,
			"numeric_columns": numericColumns,
			"completeness":    completeness,
			"duplicate_rows":  duplicates,
		},
		"recommendations": recommendationsFor(domain, completeness, duplicates),
		"generated_at":    time.Now().Format(time.RFC3339),
	}

	a.logger.InfoContext(ctx, "insights generated",
		slog.String("domain", domain),
		slog.Int("rows", rows),
		slog.Float64("quality_score", qualityScore))

	return insights, nil
}

func domainOrGeneric(domain string) string {
	if domain == "" {
		return "generic"
	}
	return domain
}

func headlineFor(domain string, rows, columns int) string {
	switch domain {
	case "financial":
		return fmt.Sprintf("Financial dataset analyzed: %d records across %d indicators", rows, columns)
	case "retail":
		return fmt.Sprintf("Retail dataset analyzed: %d transactions across %d attributes", rows, columns)
	default:
		return fmt.Sprintf("Dataset analyzed: %d rows across %d columns", rows, columns)
	}
}

func recommendationsFor(domain string, completeness float64, duplicates int) []string {
	var recs []string

	if completeness < 95 {
		recs = append(recs, fmt.Sprintf("Dataset completeness is %.1f%%; consider imputing or removing sparse columns", completeness))
	}
	if duplicates > 0 {
		recs = append(recs, fmt.Sprintf("Found %d duplicate rows; deduplicate before drawing conclusions", duplicates))
	}

	switch domain {
	case "financial":
		recs = append(recs, "Review period-over-period trends in the numeric indicators")
	case "retail":
		recs = append(recs, "Segment transactions by product category for deeper insight")
	default:
		recs = append(recs, "Explore correlations between the numeric columns")
	}

	return recs
}
