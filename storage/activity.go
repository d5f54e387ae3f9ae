package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Activity message types.
const (
	ActivityCreated = "task-created"
	ActivityUpdated = "task-updated"
	ActivityDeleted = "task-deleted"
)

// Activity is the queue message sent after a successful remote write.
type Activity struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Collection string `json:"collection"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId,omitempty"`
	Status     string `json:"status,omitempty"`
	Time       int64  `json:"time"`
}

type queueSender interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// ActivityPublisher wraps a document store and announces every successful
// write on an Azure storage queue. Publishing failures never fail the write.
type ActivityPublisher struct {
	base   backend
	queue  queueSender
	logger *log.Logger
	now    func() time.Time
}

// NewQueueSender opens the activity queue with the retry policy used for
// command queues.
func NewQueueSender(connStr, queueName string) (*azqueue.QueueClient, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
}

func NewActivityPublisher(base backend, queue queueSender, logger *log.Logger) *ActivityPublisher {
	if base == nil {
		panic("storage.NewActivityPublisher: base store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ActivityPublisher{base: base, queue: queue, logger: logger, now: time.Now}
}

func (p *ActivityPublisher) Insert(ctx context.Context, collection string, record domain.Record) (string, error) {
	id, err := p.base.Insert(ctx, collection, record)
	if err != nil {
		return "", err
	}
	p.publish(ctx, Activity{
		Type:       ActivityCreated,
		Collection: collection,
		DocumentID: id,
		UserID:     record.String(domain.FieldUserID),
		Status:     record.String(domain.FieldStatus),
	})
	return id, nil
}

func (p *ActivityPublisher) Update(ctx context.Context, collection, id string, partial domain.Record) error {
	if err := p.base.Update(ctx, collection, id, partial); err != nil {
		return err
	}
	p.publish(ctx, Activity{
		Type:       ActivityUpdated,
		Collection: collection,
		DocumentID: id,
		UserID:     partial.String(domain.FieldUserID),
		Status:     partial.String(domain.FieldStatus),
	})
	return nil
}

func (p *ActivityPublisher) Delete(ctx context.Context, collection, id string) error {
	if err := p.base.Delete(ctx, collection, id); err != nil {
		return err
	}
	p.publish(ctx, Activity{Type: ActivityDeleted, Collection: collection, DocumentID: id})
	return nil
}

func (p *ActivityPublisher) QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error) {
	return p.base.QueryByField(ctx, collection, field, value)
}

func (p *ActivityPublisher) publish(ctx context.Context, a Activity) {
	if p.queue == nil {
		return
	}
	a.ID = uuid.NewString()
	a.Time = p.now().UnixMilli()
	data, err := sonic.Marshal(a)
	if err != nil {
		p.logger.WithError(err).Error("encode activity")
		return
	}
	if _, err := p.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"type":        a.Type,
			"document_id": a.DocumentID,
		}).Warn("publish activity failed")
	}
}
