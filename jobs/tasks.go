package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskValuationSnapshot triggers the nightly valuation snapshot.
	TaskValuationSnapshot = "valuation:snapshot"
)

// ValuationSnapshotPayload carries scheduling metadata for a snapshot run.
type ValuationSnapshotPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewValuationSnapshotTask constructs an Asynq task for the snapshot job.
// A zero AsOf means "when the task runs".
func NewValuationSnapshotTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ValuationSnapshotPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskValuationSnapshot, body, asynq.Queue(QueueDefault)), nil
}
