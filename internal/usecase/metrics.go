package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalSubmissions  int64   `json:"total_submissions"`
	Verified          int64   `json:"verified"`
	Rejected          int64   `json:"rejected"`
	Pending           int64   `json:"pending"`
	VerificationRate  float64 `json:"verification_rate"`
	AverageSimilarity float64 `json:"average_similarity"`
}

// GetMetricsSummary aggregates verification metrics from persisted submissions.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSubmissions:  aggregation.TotalCount,
		Verified:          aggregation.VerifiedCount,
		Rejected:          aggregation.RejectedCount,
		Pending:           aggregation.PendingCount,
		AverageSimilarity: aggregation.AverageSimilarity,
	}

	if terminal := aggregation.VerifiedCount + aggregation.RejectedCount; terminal > 0 {
		summary.VerificationRate = float64(aggregation.VerifiedCount) / float64(terminal)
	}

	return summary, nil
}
