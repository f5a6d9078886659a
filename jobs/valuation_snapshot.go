package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// SnapshotRepository is the slice of the valuation repository the job needs.
type SnapshotRepository interface {
	SnapshotValuations(ctx context.Context, asOf time.Time) (int64, error)
}

// ValuationSnapshotJob writes one dated valuation row per (location,
// variant) from the remaining cost layers.
type ValuationSnapshotJob struct {
	repo    SnapshotRepository
	redis   *redis.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewValuationSnapshotJob constructs the job. The redis client is used
// only for the per-day run lock; it and metrics may be nil.
func NewValuationSnapshotJob(repo SnapshotRepository, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *ValuationSnapshotJob {
	return &ValuationSnapshotJob{repo: repo, redis: redisClient, metrics: metrics, logger: logger}
}

// Handle processes TaskValuationSnapshot tasks.
func (j *ValuationSnapshotJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.TrackJob("valuation_snapshot")
	return tracker.End(j.run(ctx, t))
}

func (j *ValuationSnapshotJob) run(ctx context.Context, t *asynq.Task) error {
	var payload ValuationSnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	if j.redis != nil {
		key := shared.SnapshotLockKey(asOf.Format("2006-01-02"))
		ok, err := j.redis.SetNX(ctx, key, "1", 12*time.Hour).Result()
		if err != nil {
			j.logger.Warn("snapshot lock", slog.Any("error", err))
		} else if !ok {
			j.logger.Info("valuation snapshot already ran", slog.String("as_of", asOf.Format("2006-01-02")))
			return nil
		}
	}

	rows, err := j.repo.SnapshotValuations(ctx, asOf)
	if err != nil {
		j.logger.Error("valuation snapshot failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("valuation snapshot complete",
		slog.String("as_of", asOf.Format("2006-01-02")),
		slog.Int64("rows", rows))
	return nil
}
