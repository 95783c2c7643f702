package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/punchamoorthee/refundops/internal/domain"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

var codePattern = regexp.MustCompile(`^REF-[0-9A-Z]{1,8}-[0-9A-Z]{6}$`)

func TestFormatReferenceCode(t *testing.T) {
	t.Parallel()

	ts := time.UnixMilli(1_700_000_000_000)
	got := formatReferenceCode(ts, "ABC123")
	if got != "REF-LOYW3V28-ABC123" {
		t.Fatalf("unexpected code %q", got)
	}
	if !codePattern.MatchString(got) {
		t.Fatalf("code %q does not match format", got)
	}
}

func TestGeneratedCodesMatchFormat(t *testing.T) {
	t.Parallel()

	g := newCodeGenerator(func() time.Time { return time.Now().UTC() }, 3)
	for range 50 {
		code, err := g.next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !codePattern.MatchString(code) {
			t.Fatalf("code %q does not match format", code)
		}
	}
}

func TestCodeGenerationGivesUpAfterCollisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	fixed := time.UnixMilli(1_700_000_000_000).UTC()
	f.svc.codes = &codeGenerator{now: func() time.Time { return fixed }, random: zeroReader{}, maxAttempts: 3}

	first, err := f.svc.CreateRefundRequest(ctx, f.tasker(t, 1000), amount(100))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.ReferenceCode != "REF-LOYW3V28-000000" {
		t.Fatalf("unexpected code %q", first.ReferenceCode)
	}

	_, err = f.svc.CreateRefundRequest(ctx, f.tasker(t, 1000), amount(100))
	if !errors.Is(err, ErrReferenceCodeExhausted) {
		t.Fatalf("expected ErrReferenceCodeExhausted, got %v", err)
	}
	if domain.KindOf(err) != domain.KindPersistence {
		t.Fatalf("expected persistence kind, got %s", domain.KindOf(err))
	}
}
