package usecase

import "context"

// MetricsSummary represents aggregated recognition insights.
type MetricsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	MatchedRequests   int64   `json:"matched_requests"`
	MatchRate         float64 `json:"match_rate"`
	KeywordMatches    int64   `json:"keyword_matches"`
	FeatureMatches    int64   `json:"feature_matches"`
	AverageConfidence float64 `json:"average_confidence"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	CatalogEntries    int     `json:"catalog_entries"`
}

// GetMetricsSummary aggregates recognition metrics from persisted logs.
func (uc *RecognitionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	summary := &MetricsSummary{CatalogEntries: uc.catalogSize()}
	if uc.repo == nil {
		return summary, nil
	}

	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary.TotalRequests = aggregation.TotalCount
	summary.MatchedRequests = aggregation.MatchedCount
	summary.KeywordMatches = aggregation.KeywordCount
	summary.FeatureMatches = aggregation.FeatureCount
	summary.AverageConfidence = aggregation.AverageConfidence
	summary.AverageLatencyMs = aggregation.AverageLatencyMs

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
