package streams

import (
	"context"
	"log"
)

// JobEventNotifier publishes job.rescued events onto the Redis Stream so a
// downstream consumer (alerting, an operator dashboard) can react without
// polling the Durable Store, satisfying sweeper.Notifier.
type JobEventNotifier struct {
	publisher *Publisher
	logger    *log.Logger
}

// NewJobEventNotifier builds a JobEventNotifier. logger defaults to the
// standard library's default logger when nil.
func NewJobEventNotifier(publisher *Publisher, logger *log.Logger) *JobEventNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &JobEventNotifier{publisher: publisher, logger: logger}
}

// NotifyRescued implements sweeper.Notifier.
func (n *JobEventNotifier) NotifyRescued(ctx context.Context, jobID string) {
	payload := map[string]interface{}{"job_id": jobID, "reason": "rescued by sweeper"}
	if _, err := n.publisher.PublishRaw(ctx, StreamJobEvents, "job.rescued", "v1", payload); err != nil {
		n.logger.Printf("publish job.rescued for %s: %v", jobID, err)
	}
}
