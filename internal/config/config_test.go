package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func newViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestDecodeDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := decode(newViper(map[string]any{"store_driver": "memory"}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if !cfg.MinAmount.Equal(decimal.NewFromInt(50)) || !cfg.MaxAmount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected bounds %s..%s", cfg.MinAmount, cfg.MaxAmount)
	}
	if cfg.DispatchBackoff != 500*time.Millisecond {
		t.Errorf("expected 500ms backoff, got %s", cfg.DispatchBackoff)
	}
	if cfg.JWTSecret != devJWTSecret {
		t.Errorf("expected development secret fallback")
	}
	if cfg.RefundStrictReject {
		t.Errorf("strict reject must default to false")
	}
}

func TestDecodeValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]any{
		"postgres without dsn": {"store_driver": "postgres"},
		"unknown driver":       {"store_driver": "mongo"},
		"production no secret": {"store_driver": "memory", "environment": "production"},
		"min above max":        {"store_driver": "memory", "refund_min_amount": "500", "refund_max_amount": "100"},
		"non numeric amount":   {"store_driver": "memory", "refund_min_amount": "fifty"},
		"zero code attempts":   {"store_driver": "memory", "refund_code_max_attempts": 0},
		"zero redrives":        {"store_driver": "memory", "dispatch_max_redrives": 0},
	}
	for name, overrides := range cases {
		if _, err := decode(newViper(overrides)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestDecodeSplitsKafkaBrokers(t *testing.T) {
	t.Parallel()

	cfg, err := decode(newViper(map[string]any{
		"store_driver":  "memory",
		"kafka_brokers": "k1:9092,k2:9092",
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestDecodeAuthIgnoresStoreSettings(t *testing.T) {
	t.Parallel()

	// postgres is the default driver and DB_SOURCE is unset
	a, err := decodeAuth(newViper(map[string]any{"jwt_secret": "s3cret", "jwt_issuer": "ops"}))
	if err != nil {
		t.Fatalf("decodeAuth: %v", err)
	}
	if a.JWTSecret != "s3cret" || a.JWTIssuer != "ops" {
		t.Fatalf("unexpected auth config %+v", a)
	}

	a, err = decodeAuth(newViper(nil))
	if err != nil {
		t.Fatalf("decodeAuth defaults: %v", err)
	}
	if a.JWTSecret != devJWTSecret || a.JWTIssuer != "refundops" {
		t.Fatalf("unexpected defaults %+v", a)
	}

	if _, err := decodeAuth(newViper(map[string]any{"environment": "production"})); err == nil {
		t.Fatal("expected missing secret to fail outside development")
	}
}
