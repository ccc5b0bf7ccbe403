// Package stripe configures the process-wide Stripe key and verifies webhook
// deliveries. Payment intent calls live in internal/payment.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// keyPrefixes lists the secret and restricted key prefixes valid per mode.
var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

var (
	ErrSecretKeyRequired     = errors.New("stripe secret key is required")
	ErrWebhookSecretRequired = errors.New("stripe webhook secret is required")
)

// Client holds the webhook signing secret once the API key has been set.
type Client struct {
	mode          Mode
	signingSecret string
}

// NewClient sets stripe.Key after checking the key matches the configured mode,
// so a live key never runs in a test deployment.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, ErrSecretKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, ErrWebhookSecretRequired
	}
	if !mode.accepts(key) {
		return nil, fmt.Errorf("stripe %s mode needs a key starting with one of %v", mode, keyPrefixes[mode])
	}

	stripe.Key = key
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client initialized")
	}
	return &Client{mode: mode, signingSecret: secret}, nil
}

func parseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("stripe environment %q must be %q or %q", raw, ModeTest, ModeLive)
	}
}

func (m Mode) accepts(key string) bool {
	for _, prefix := range keyPrefixes[m] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Mode reports the account mode; empty for a nil client.
func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

// VerifyEvent checks the Stripe-Signature header within the default tolerance
// and decodes the event. Events pinned to another API version are accepted;
// handlers only read fields stable across versions.
func (c *Client) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, ErrWebhookSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, signature, c.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
