package models

// ProgressEvent is one incremental update for a job: an epoch boundary with a
// full metric row attached, or a pure status change with no metrics.
type ProgressEvent struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	Epoch         int       `json:"epoch"`
	EpochsTotal   int       `json:"epochs_total"`
	TrainLoss     *float64  `json:"train_loss,omitempty"`
	TrainAccuracy *float64  `json:"train_accuracy,omitempty"`
	ValLoss       *float64  `json:"val_loss,omitempty"`
	ValAccuracy   *float64  `json:"val_accuracy,omitempty"`
	EpochTime     *float64  `json:"epoch_time,omitempty"`
	BestAccuracy  *float64  `json:"best_accuracy,omitempty"`
	TotalTime     *float64  `json:"total_time,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// HasMetrics reports whether the event carries a complete per-epoch metric
// row. Partial rows are never appended to history.
func (e *ProgressEvent) HasMetrics() bool {
	return e.TrainLoss != nil && e.TrainAccuracy != nil &&
		e.ValLoss != nil && e.ValAccuracy != nil && e.EpochTime != nil
}

// MetricRow converts the event's metric fields into a history row. Valid only
// when HasMetrics is true.
func (e *ProgressEvent) MetricRow() MetricRow {
	return MetricRow{
		TrainLoss:     *e.TrainLoss,
		ValLoss:       *e.ValLoss,
		TrainAccuracy: *e.TrainAccuracy,
		ValAccuracy:   *e.ValAccuracy,
		EpochTime:     *e.EpochTime,
	}
}

// Envelope is the outbound push-channel frame wrapping a ProgressEvent.
type Envelope struct {
	JobID string        `json:"job_id"`
	Data  ProgressEvent `json:"data"`
}

// SubscribeRequest is an inbound push-channel frame. Topic is a job id or the
// wildcard topic.
type SubscribeRequest struct {
	Type  string `json:"type"` // "subscribe" | "unsubscribe"
	Topic string `json:"topic"`
}
