package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CallbackSigner signs checkout idempotency tokens embedded in gateway callback URLs so
// the callback endpoint only answers for tokens this service issued.
type CallbackSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCallbackSigner constructs a signer with the provided secret and TTL.
func NewCallbackSigner(secret string, ttl time.Duration) *CallbackSigner {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &CallbackSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign returns "<token>.<unix-expiry>.<hex-hmac>".
func (s *CallbackSigner) Sign(checkoutToken string) (string, time.Time, error) {
	if checkoutToken == "" {
		return "", time.Time{}, fmt.Errorf("checkout token required")
	}
	if strings.Contains(checkoutToken, ".") {
		return "", time.Time{}, fmt.Errorf("checkout token must not contain '.'")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	signature := s.mac(checkoutToken, ts)
	return strings.Join([]string{checkoutToken, ts, signature}, "."), expiresAt, nil
}

// Verify validates a signed token and returns the embedded checkout token.
func (s *CallbackSigner) Verify(signed string) (string, time.Time, error) {
	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		return "", time.Time{}, fmt.Errorf("invalid token format")
	}
	checkoutToken, ts, signature := parts[0], parts[1], parts[2]

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt := time.Unix(expUnix, 0)

	expected := s.mac(checkoutToken, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	if s.now().After(expiresAt) {
		return "", time.Time{}, fmt.Errorf("token expired")
	}
	return checkoutToken, expiresAt, nil
}

func (s *CallbackSigner) mac(checkoutToken, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(checkoutToken + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
