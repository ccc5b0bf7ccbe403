package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

func TestNewClientChecksKeyAgainstMode(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		mode    Mode
		wantErr error
	}{
		{name: "test key in test mode", cfg: config.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_1", Env: "test"}, mode: ModeTest},
		{name: "restricted live key", cfg: config.StripeConfig{SecretKey: "rk_live_123", WebhookSecret: "whsec_1", Env: " LIVE "}, mode: ModeLive},
		{name: "blank env is test", cfg: config.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_1"}, mode: ModeTest},
		{name: "live key in test mode", cfg: config.StripeConfig{SecretKey: "sk_live_123", WebhookSecret: "whsec_1", Env: "test"}},
		{name: "missing webhook secret", cfg: config.StripeConfig{SecretKey: "sk_test_123", Env: "test"}, wantErr: ErrWebhookSecretRequired},
		{name: "missing key", cfg: config.StripeConfig{WebhookSecret: "whsec_1"}, wantErr: ErrSecretKeyRequired},
		{name: "unknown env", cfg: config.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_1", Env: "staging"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tc.cfg, nil)
			if tc.mode == "" {
				require.Error(t, err)
				if tc.wantErr != nil {
					assert.ErrorIs(t, err, tc.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.mode, client.Mode())
		})
	}
}

func sign(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyEvent(t *testing.T) {
	client := &Client{mode: ModeTest, signingSecret: "whsec_test"}
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":"2019-01-01"}`)

	evt, err := client.VerifyEvent(payload, sign("whsec_test", payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)

	_, err = client.VerifyEvent(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)

	_, err = client.VerifyEvent(payload, sign("whsec_other", payload, time.Now()))
	assert.Error(t, err)

	_, err = client.VerifyEvent(payload, sign("whsec_test", payload, time.Now().Add(-time.Hour)))
	assert.Error(t, err, "stale signatures fall outside the tolerance")

	var unconfigured *Client
	_, err = unconfigured.VerifyEvent(payload, "sig")
	assert.ErrorIs(t, err, ErrWebhookSecretRequired)
}
