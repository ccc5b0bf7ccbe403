package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{
		OrdersSubscription:       " orders-sub ",
		NotificationSubscription: "",
	})
	if len(names) != 1 || names[0] != "orders-sub" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "shop-prod"}
	if got := c.subscriptionResourceName("notifier"); got != "projects/shop-prod/subscriptions/notifier" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	full := "projects/other/subscriptions/x"
	if got := c.subscriptionResourceName(full); got != full {
		t.Fatalf("full names should pass through, got %q", got)
	}
	if got := c.topicResourceName("sf-order-events"); got != "projects/shop-prod/topics/sf-order-events" {
		t.Fatalf("unexpected topic name %q", got)
	}
	if got := c.topicResourceName(" "); got != "" {
		t.Fatalf("blank topic should resolve to empty, got %q", got)
	}
	var nilClient *Client
	if nilClient.Publisher("x") != nil || nilClient.Subscription("x") != nil {
		t.Fatalf("nil client should return nil handles")
	}
}

func TestClientOptions(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{ProjectID: "p"}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{ProjectID: "p", CredentialsJSON: `{"type":"service_account"}`}); len(opts) != 1 {
		t.Fatalf("expected a credentials option, got %d", len(opts))
	}
}

func TestUninitializedClientChecksFail(t *testing.T) {
	c := &Client{projectID: "shop-prod"}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail without a client")
	}
	if err := c.CheckTopics(context.Background(), []string{"sf-order-events"}); err == nil {
		t.Fatalf("expected topic check to fail without a client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on empty client: %v", err)
	}
}
