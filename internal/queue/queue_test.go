package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

func TestMemoryPublisherRecordsInOrder(t *testing.T) {
	p := &MemoryPublisher{}
	ctx := context.Background()
	id := uuid.New()

	for _, typ := range []model.EventType{model.EventIPOSubmitted, model.EventIPOAllotted} {
		if err := p.Publish(ctx, model.NewEvent(typ, id, uuid.Nil, nil)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	got := p.Types()
	if len(got) != 2 || got[0] != model.EventIPOSubmitted || got[1] != model.EventIPOAllotted {
		t.Errorf("Types() = %v, want [ipo.submitted ipo.allotted]", got)
	}
}

func TestKafkaMessage(t *testing.T) {
	event := model.NewEvent(model.EventModificationProposed, uuid.New(), uuid.New(), map[string]string{"target_model": "Account"})

	msg, err := kafkaMessage(event)
	if err != nil {
		t.Fatalf("kafkaMessage() error = %v", err)
	}
	if string(msg.Key) != event.EntityID.String() {
		t.Errorf("Key = %s, want %s", msg.Key, event.EntityID)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(model.EventModificationProposed) {
		t.Errorf("Headers = %v, want event_type header", msg.Headers)
	}

	var decoded model.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.ID != event.ID || decoded.Attributes["target_model"] != "Account" {
		t.Errorf("decoded = %+v, want %+v", decoded, event)
	}
}

// unreachableClient returns a client whose commands fail fast
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestWorkerHandle(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	w := NewWorker(client, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name    string
		typ     model.EventType
		wantErr bool
	}{
		{"informational event needs no redis", model.EventProfitDistributed, false},
		{"proposal updates the work-queue", model.EventModificationProposed, true},
		{"decision updates the work-queue", model.EventModificationApproved, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Handle(ctx, model.NewEvent(tt.typ, uuid.New(), uuid.Nil, nil))
			if (err != nil) != tt.wantErr {
				t.Errorf("Handle(%s) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
			}
		})
	}
}

func TestWorkerWithoutLogger(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	w := NewWorker(client, nil)

	if err := w.Handle(context.Background(), model.NewEvent(model.EventProfitDistributed, uuid.New(), uuid.Nil, nil)); err != nil {
		t.Errorf("Handle() error = %v", err)
	}
	if err := w.Handle(context.Background(), model.NewEvent(model.EventModificationProposed, uuid.New(), uuid.Nil, nil)); err == nil {
		t.Error("Handle() error = nil, want a redis error")
	}
}
