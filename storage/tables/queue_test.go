package tables

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"prism-gtd/domain"
)

type fakeQueue struct {
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestQueuePublisherEncodesEvent(t *testing.T) {
	fq := &fakeQueue{}
	p := &QueuePublisher{queue: fq}
	ev := domain.Event{
		ID:         "e1",
		EntityID:   "t1",
		EntityType: "task",
		Type:       domain.TaskCompleted,
		UserID:     "u1",
		Time:       testNow,
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fq.messages))
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(fq.messages[0]), &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got["type"] != domain.TaskCompleted || got["entityId"] != "t1" {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestQueuePublisherPropagatesError(t *testing.T) {
	boom := errors.New("queue down")
	p := &QueuePublisher{queue: &fakeQueue{err: boom}}
	if err := p.Publish(context.Background(), domain.Event{ID: "e1"}); !errors.Is(err, boom) {
		t.Fatalf("expected queue error, got %v", err)
	}
}
