package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/ext"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Broker)(nil)
	_ ext.JobEnqueued     = (*Broker)(nil)
	_ ext.JobStarted      = (*Broker)(nil)
	_ ext.JobCompleted    = (*Broker)(nil)
	_ ext.JobFailed       = (*Broker)(nil)
	_ ext.JobRetrying     = (*Broker)(nil)
	_ ext.JobDLQ          = (*Broker)(nil)
	_ ext.ActionRejected  = (*Broker)(nil)
	_ ext.UploadCompleted = (*Broker)(nil)
	_ ext.CronFired       = (*Broker)(nil)
	_ ext.Shutdown        = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the real-time stream broker. It implements the ext lifecycle
// interfaces to receive events and fans them out to subscribers via
// topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	var dropped int64
	b.subscribers.Range(func(_, value any) bool {
		count++
		dropped += value.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to its resolved topics plus any extras.
func (b *Broker) publish(evt *Event, extra ...string) {
	topics := append(resolveTopics(evt), extra...)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// resolveTopics returns the standing topics an event belongs to, based
// on its type, plus its own entity topic.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}

	evtType := string(evt.Type)
	switch {
	case strings.HasPrefix(evtType, "job."):
		topics = append(topics, TopicJobs)
	case strings.HasPrefix(evtType, "upload."):
		topics = append(topics, TopicUploads)
	}
	// Admission and cron events only go to the firehose (plus their
	// entity topic, when set).

	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}

	return topics
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func jobEvent(t EventType, j *job.Job) *Event {
	return &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:    j.ID.String(),
			JobName:  j.Name,
			Queue:    j.Queue,
			TenantID: j.TenantID,
		}),
	}
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publish(jobEvent(EventJobEnqueued, j), QueueTopic(j.Queue))
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publish(jobEvent(EventJobStarted, j), QueueTopic(j.Queue))
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:     j.ID.String(),
			JobName:   j.Name,
			Queue:     j.Queue,
			TenantID:  j.TenantID,
			ElapsedMs: elapsed.Milliseconds(),
		}),
	}, QueueTopic(j.Queue))
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.publish(&Event{
		Type:      EventJobFailed,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:    j.ID.String(),
			JobName:  j.Name,
			Queue:    j.Queue,
			TenantID: j.TenantID,
			Error:    jobErr.Error(),
		}),
	}, QueueTopic(j.Queue))
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	b.publish(&Event{
		Type:      EventJobRetrying,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:     j.ID.String(),
			JobName:   j.Name,
			Queue:     j.Queue,
			TenantID:  j.TenantID,
			Attempt:   attempt,
			NextRunAt: nextRunAt.Format(time.RFC3339),
		}),
	}, QueueTopic(j.Queue))
	return nil
}

func (b *Broker) OnJobDLQ(_ context.Context, j *job.Job, jobErr error) error {
	b.publish(&Event{
		Type:      EventJobDLQ,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:    j.ID.String(),
			JobName:  j.Name,
			Queue:    j.Queue,
			TenantID: j.TenantID,
			Error:    jobErr.Error(),
		}),
	}, QueueTopic(j.Queue))
	return nil
}

// ── Admission and upload hooks ──────────────────────

func (b *Broker) OnActionRejected(_ context.Context, tenantID, action string, reason spool.RejectReason) error {
	b.publish(&Event{
		Type:      EventActionRejected,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(tenantID),
		Data: mustMarshal(RejectionEventData{
			TenantID: tenantID,
			Action:   action,
			Reason:   string(reason),
		}),
	})
	return nil
}

func (b *Broker) OnUploadCompleted(_ context.Context, tenantID string, uploadID id.UploadID, totalChunks int) error {
	b.publish(&Event{
		Type:      EventUploadCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     UploadTopic(uploadID.String()),
		Data: mustMarshal(UploadEventData{
			UploadID:    uploadID.String(),
			TenantID:    tenantID,
			TotalChunks: totalChunks,
		}),
	}, TenantTopic(tenantID))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

func (b *Broker) OnCronFired(_ context.Context, entryName string, jobID id.JobID) error {
	b.publish(&Event{
		Type:      EventCronFired,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(CronEventData{
			EntryName: entryName,
			JobID:     jobID.String(),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
