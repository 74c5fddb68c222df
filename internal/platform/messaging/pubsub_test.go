package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
)

func TestPubSubSinkPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := client.CreateTopic(ctx, "notifications"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	sink, err := NewPubSubSink(client, "notifications", "porma-api")
	if err != nil {
		t.Fatalf("NewPubSubSink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	created := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	n := domain.Notification{
		ID:        "ntf_1",
		UserID:    "seller-1",
		Type:      domain.NotificationOrderPlaced,
		Title:     "New order",
		Message:   "Order ord_1 was placed",
		Data:      map[string]any{"orderId": "ord_1"},
		CreatedAt: created,
	}
	if err := sink.Deliver(ctx, n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Attributes["userId"] != "seller-1" || msg.Attributes["notificationId"] != "ntf_1" {
		t.Fatalf("unexpected attributes %#v", msg.Attributes)
	}
	if msg.Attributes["type"] != string(domain.NotificationOrderPlaced) {
		t.Fatalf("unexpected type attribute %q", msg.Attributes["type"])
	}

	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventID != "ntf_1" || env.Producer != "porma-api" || env.EventVersion != 1 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if !env.OccurredAt.Equal(created) || env.Payload.Title != "New order" || env.Payload.Data["orderId"] != "ord_1" {
		t.Fatalf("unexpected envelope payload %+v", env)
	}
}

func TestNewPubSubSinkValidatesArguments(t *testing.T) {
	if _, err := NewPubSubSink(nil, "t", "p"); err == nil {
		t.Fatal("expected error for nil client")
	}
}
