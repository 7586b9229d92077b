package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flowmarket/pkg/config"
)

const (
	SignatureHeader = "Stripe-Signature"
	defaultSkew     = 5 * time.Minute
)

var ErrInvalidSignature = errors.New("payment: invalid signature")

// Verifier checks the processor's "t=<unix>,v1=<hex>" signature header, an
// HMAC-SHA256 over "<t>.<raw body>" with the shared webhook secret.
type Verifier struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time
}

func NewVerifier(cfg *config.Config) (*Verifier, error) {
	return NewVerifierWithSecret(cfg.Payment.WebhookSecret, cfg.Payment.SignatureSkew)
}

func NewVerifierWithSecret(secret string, skew time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("empty webhook secret")
	}
	if skew <= 0 {
		skew = defaultSkew
	}
	return &Verifier{secret: []byte(secret), skew: skew, now: time.Now}, nil
}

func (v *Verifier) Verify(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidSignature, SignatureHeader)
	}
	tsStr, candidates, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	now := v.now()
	signedAt := time.Unix(ts, 0)
	if now.Sub(signedAt) > v.skew || signedAt.Sub(now) > v.skew {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := computeSignature(v.secret, tsStr, body)
	for _, c := range candidates {
		got, err := hex.DecodeString(c)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
}

// Sign produces a header value for body signed at ts. Used to build
// fixtures and local replays.
func Sign(secret string, ts time.Time, body []byte) string {
	tsStr := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", tsStr, hex.EncodeToString(computeSignature([]byte(secret), tsStr, body)))
}

func computeSignature(secret []byte, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (string, []string, error) {
	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			candidates = append(candidates, strings.TrimSpace(val))
		}
	}
	if ts == "" || len(candidates) == 0 {
		return "", nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return ts, candidates, nil
}
