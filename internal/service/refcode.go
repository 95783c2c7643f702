package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/refundops/internal/store"
)

var ErrReferenceCodeExhausted = errors.New("could not generate a unique reference code")

const (
	base36           = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeStampLen     = 8
	codeSuffixLen    = 6
	defaultCodeTries = 5
)

type codeGenerator struct {
	now         func() time.Time
	random      io.Reader
	maxAttempts int
}

func newCodeGenerator(now func() time.Time, maxAttempts int) *codeGenerator {
	if maxAttempts <= 0 {
		maxAttempts = defaultCodeTries
	}
	return &codeGenerator{now: now, random: rand.Reader, maxAttempts: maxAttempts}
}

// Generate returns a code not yet present in the store, giving up after
// maxAttempts collisions.
func (g *codeGenerator) Generate(ctx context.Context, q store.Queries) (string, error) {
	for range g.maxAttempts {
		code, err := g.next()
		if err != nil {
			return "", err
		}
		exists, err := q.ReferenceCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrReferenceCodeExhausted
}

func (g *codeGenerator) next() (string, error) {
	suffix, err := randomBase36(g.random, codeSuffixLen)
	if err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	return formatReferenceCode(g.now(), suffix), nil
}

// formatReferenceCode builds REF-<stamp>-<suffix> where stamp is the last
// eight base36 digits of the unix time in milliseconds.
func formatReferenceCode(t time.Time, suffix string) string {
	stamp := strings.ToUpper(strconv.FormatInt(t.UnixMilli(), 36))
	if len(stamp) > codeStampLen {
		stamp = stamp[len(stamp)-codeStampLen:]
	}
	return "REF-" + stamp + "-" + suffix
}

func randomBase36(r io.Reader, n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	limit := big.NewInt(int64(len(base36)))
	for range n {
		i, err := rand.Int(r, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(base36[i.Int64()])
	}
	return b.String(), nil
}
