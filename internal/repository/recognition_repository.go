package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/scandish/internal/logging"
)

// ErrNotFound is returned when no log matches a lookup.
var ErrNotFound = errors.New("recognition log not found")

// RecognitionLog records the outcome of one recognition request.
type RecognitionLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID     string    `gorm:"column:user_id;index;size:64"`
	QueryHash  string    `gorm:"column:query_hash;index;size:40"`
	Matched    bool      `gorm:"column:matched"`
	Method     string    `gorm:"column:method;size:32"`
	Brand      string    `gorm:"column:brand;size:64"`
	Model      string    `gorm:"column:model;size:128"`
	Confidence float64   `gorm:"column:confidence"`
	Distance   *float64  `gorm:"column:distance"`
	LatencyMs  float64   `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (RecognitionLog) TableName() string {
	return "recognition_logs"
}

// MetricsAggregation is the raw aggregate over all recognition logs.
type MetricsAggregation struct {
	TotalCount        int64
	MatchedCount      int64
	KeywordCount      int64
	FeatureCount      int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// RecognitionRepository persists recognition logs with gorm.
type RecognitionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRecognitionRepository creates a repository on db.
func NewRecognitionRepository(db *gorm.DB, logger *zap.Logger) *RecognitionRepository {
	return &RecognitionRepository{
		db:             db,
		logger:         logger.Named("recognition_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *RecognitionRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&RecognitionLog{})
	})
}

// SaveLog persists a recognition log entry.
func (r *RecognitionRepository) SaveLog(ctx context.Context, log *RecognitionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves the log for requestID owned by userID.
func (r *RecognitionRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*RecognitionLog, error) {
	var log RecognitionLog
	err := r.executeWithRetry(ctx, "repository.find_log", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarizes every persisted log.
func (r *RecognitionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount        int64
		MatchedCount      int64
		KeywordCount      int64
		FeatureCount      int64
		AverageConfidence *float64
		AverageLatencyMs  *float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&RecognitionLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count,
				COALESCE(SUM(CASE WHEN method = 'keywords' THEN 1 ELSE 0 END), 0) AS keyword_count,
				COALESCE(SUM(CASE WHEN method = 'ppm-features' THEN 1 ELSE 0 END), 0) AS feature_count,
				AVG(CASE WHEN matched THEN confidence END) AS average_confidence,
				AVG(latency_ms) AS average_latency_ms`).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:   row.TotalCount,
		MatchedCount: row.MatchedCount,
		KeywordCount: row.KeywordCount,
		FeatureCount: row.FeatureCount,
	}
	if row.AverageConfidence != nil {
		agg.AverageConfidence = *row.AverageConfidence
	}
	if row.AverageLatencyMs != nil {
		agg.AverageLatencyMs = *row.AverageLatencyMs
	}
	return agg, nil
}

func (r *RecognitionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransientError(err) || attempt == attempts-1 {
			if !errors.Is(err, ErrNotFound) {
				opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransientError reports whether err is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
