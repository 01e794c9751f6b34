package exchange

import (
	"testing"

	"tradingcore/internal/config"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	c := &Client{cfg: config.ExchangeConfig{APISecret: "secret-key"}}

	sig := c.sign("payload-body")
	if !verifySignature("secret-key", "payload-body", sig) {
		t.Error("expected signature to verify against the same payload and secret")
	}
}

func TestSignDiffersByPayload(t *testing.T) {
	t.Parallel()
	c := &Client{cfg: config.ExchangeConfig{APISecret: "secret-key"}}

	if c.sign("a") == c.sign("b") {
		t.Error("expected different payloads to produce different signatures")
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	t.Parallel()
	sig := (&Client{cfg: config.ExchangeConfig{APISecret: "secret-a"}}).sign("payload")
	if verifySignature("secret-b", "payload", sig) {
		t.Error("expected verification to fail with the wrong secret")
	}
}
