package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scandish/internal/catalog"
	"github.com/example/scandish/internal/logging"
	"github.com/example/scandish/internal/recognizer"
	"github.com/example/scandish/internal/repository"
)

const defaultCacheTTL = 10 * time.Minute

// Matcher runs a single recognition query.
type Matcher interface {
	Recognize(q recognizer.Query) (*recognizer.MatchResult, error)
}

// RecognitionRepository defines the persistence operations needed by the use case.
type RecognitionRepository interface {
	SaveLog(ctx context.Context, log *repository.RecognitionLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.RecognitionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// RecognitionUseCase runs recognition queries, caches their outcome and
// records a log per request. The cache and repository are optional.
type RecognitionUseCase struct {
	matcher        Matcher
	repo           RecognitionRepository
	cache          Cache
	logger         *zap.Logger
	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// Option configures a RecognitionUseCase.
type Option func(*RecognitionUseCase)

// WithRepository enables persistence of recognition logs.
func WithRepository(repo RecognitionRepository) Option {
	return func(uc *RecognitionUseCase) { uc.repo = repo }
}

// WithCache enables result caching with the given ttl.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(uc *RecognitionUseCase) {
		uc.cache = cache
		if ttl > 0 {
			uc.cacheTTL = ttl
		}
	}
}

// Outcome is the result of a recognition request. Match is nil when nothing
// in the catalog matched.
type Outcome struct {
	RequestID string                  `json:"request_id"`
	Match     *recognizer.MatchResult `json:"match"`
	Cached    bool                    `json:"cached"`
}

type cachedMatch struct {
	Match *recognizer.MatchResult `json:"match"`
}

type cachedRecognition struct {
	RequestID string                  `json:"request_id"`
	UserID    string                  `json:"user_id"`
	QueryHash string                  `json:"query_hash"`
	Match     *recognizer.MatchResult `json:"match"`
	LatencyMs float64                 `json:"latency_ms"`
	CreatedAt time.Time               `json:"created_at"`
}

// NewRecognitionUseCase constructs a new use case instance.
func NewRecognitionUseCase(matcher Matcher, logger *zap.Logger, opts ...Option) *RecognitionUseCase {
	uc := &RecognitionUseCase{
		matcher:        matcher,
		logger:         logger.Named("recognition_usecase"),
		cacheTTL:       defaultCacheTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Recognize identifies the product in q on behalf of userID.
func (uc *RecognitionUseCase) Recognize(ctx context.Context, userID string, q recognizer.Query) (*Outcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.recognize", requestID)
	started := uc.now()
	queryHash := hashQuery(q)

	outcome := &Outcome{RequestID: requestID}
	if match, ok := uc.cachedMatch(ctx, requestID, queryHash); ok {
		outcome.Match = match
		outcome.Cached = true
	} else {
		match, err := uc.matcher.Recognize(q)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.recognize", requestID, err)
			opLogger.Info("query rejected",
				zap.String("kind", recognizer.Kind(err).String()),
				zap.Error(err))
			return nil, wrapped
		}
		outcome.Match = match
		uc.storeMatch(ctx, requestID, queryHash, match)
	}

	latency := float64(uc.now().Sub(started).Microseconds()) / 1000
	record := cachedRecognition{
		RequestID: requestID,
		UserID:    userID,
		QueryHash: queryHash,
		Match:     outcome.Match,
		LatencyMs: latency,
		CreatedAt: started.UTC(),
	}

	if uc.repo != nil {
		if err := uc.repo.SaveLog(ctx, record.toLog()); err != nil {
			wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
			opLogger.Error("failed to persist recognition log", zap.Error(wrapped))
			return nil, wrapped
		}
	}

	if uc.cache != nil {
		if serialized, err := json.Marshal(record); err != nil {
			opLogger.Error("failed to serialize recognition", zap.Error(err))
		} else if err := uc.withRedisRetry(ctx, requestID, "cache.set.request", func() error {
			return uc.cache.Set(ctx, requestCacheKey(requestID), string(serialized), uc.cacheTTL)
		}); err != nil {
			opLogger.Warn("failed to cache recognition", zap.Error(err))
		}
	}

	fields := []zap.Field{zap.Bool("matched", outcome.Match != nil), zap.Bool("cached", outcome.Cached)}
	if outcome.Match != nil {
		fields = append(fields,
			zap.String("method", outcome.Match.Method),
			zap.String("model", outcome.Match.Model),
			zap.Float64("confidence", outcome.Match.Confidence))
	}
	opLogger.Info("recognition complete", fields...)

	return outcome, nil
}

// GetResult retrieves a recognition owned by userID from the cache or,
// failing that, from persistence.
func (uc *RecognitionUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.RecognitionLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, requestID, "cache.get.request", requestCacheKey(requestID))
		switch {
		case err == nil:
			var payload cachedRecognition
			if err := json.Unmarshal([]byte(cached), &payload); err != nil {
				opLogger.Warn("failed to decode cached result", zap.Error(err))
			} else if payload.UserID == userID {
				return payload.toLog(), nil
			}
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	if uc.repo == nil {
		return nil, logging.NewOperationError("usecase.get_result", requestID, repository.ErrNotFound)
	}
	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

func (uc *RecognitionUseCase) cachedMatch(ctx context.Context, requestID, queryHash string) (*recognizer.MatchResult, bool) {
	if uc.cache == nil {
		return nil, false
	}
	raw, err := uc.withRedisGet(ctx, requestID, "cache.get.query", queryCacheKey(queryHash))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.recognize", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}
	var payload cachedMatch
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logging.WithOperation(uc.logger, "usecase.recognize", requestID).Warn("failed to decode cached match", zap.Error(err))
		return nil, false
	}
	return payload.Match, true
}

func (uc *RecognitionUseCase) storeMatch(ctx context.Context, requestID, queryHash string, match *recognizer.MatchResult) {
	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(cachedMatch{Match: match})
	if err != nil {
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.query", func() error {
		return uc.cache.Set(ctx, queryCacheKey(queryHash), string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.recognize", requestID).Warn("failed to cache match", zap.Error(err))
	}
}

func (uc *RecognitionUseCase) catalogSize() int {
	if src, ok := uc.matcher.(interface{ Catalog() *catalog.Catalog }); ok {
		return src.Catalog().Len()
	}
	return 0
}

func (uc *RecognitionUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !repository.IsTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *RecognitionUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (r cachedRecognition) toLog() *repository.RecognitionLog {
	log := &repository.RecognitionLog{
		RequestID: r.RequestID,
		UserID:    r.UserID,
		QueryHash: r.QueryHash,
		LatencyMs: r.LatencyMs,
		CreatedAt: r.CreatedAt,
	}
	if m := r.Match; m != nil {
		log.Matched = true
		log.Method = m.Method
		log.Brand = m.Brand
		log.Model = m.Model
		log.Confidence = m.Confidence
		log.Distance = m.Distance
	}
	return log
}

func hashQuery(q recognizer.Query) string {
	h := sha1.New()
	h.Write([]byte(q.ImageURL))
	h.Write([]byte{0})
	h.Write([]byte(q.ImageBase64))
	h.Write([]byte{0})
	h.Write(q.ImageData)
	return hex.EncodeToString(h.Sum(nil))
}
