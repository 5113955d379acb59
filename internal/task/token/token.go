// Package token mints and verifies task-scoped result tokens.
//
// A token authorizes exactly one task to submit its result back. It is
// handed to the CI pipeline as a variable and carried back on the result
// request, so it must be cheap to verify without a database lookup.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed tokens and signature mismatches.
	ErrInvalidToken = errors.New("invalid task token")
	// ErrExpiredToken means the token's expiry has passed.
	ErrExpiredToken = errors.New("expired task token")
	// ErrTaskMismatch means the token is valid but scoped to another task.
	ErrTaskMismatch = errors.New("token issued for different task")
)

// Service mints and verifies HMAC-SHA256 task tokens. The wire format is
// base64url(taskID:expiryUnix:hexSignature) with no padding.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service. ttl bounds how long a minted token
// stays valid, matching the task's execution budget.
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Mint creates a token scoped to taskID, valid until now+ttl.
func (s *Service) Mint(taskID int64) string {
	expiry := s.now().Add(s.ttl).Unix()
	payload := fmt.Sprintf("%d:%d", taskID, expiry)
	sig := s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload + ":" + sig))
}

// Verify checks the token's signature and expiry and confirms it is scoped
// to taskID. Expiry is exclusive: a token checked at its exact expiry
// instant is already expired.
func (s *Service) Verify(token string, taskID int64) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		// Tolerate padded tokens from clients that use standard encoding.
		raw, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return ErrInvalidToken
		}
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		return ErrInvalidToken
	}

	tokenTaskID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ErrInvalidToken
	}

	payload := parts[0] + ":" + parts[1]
	expected := s.sign(payload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) != 1 {
		return ErrInvalidToken
	}

	if s.now().Unix() >= expiry {
		return ErrExpiredToken
	}
	if tokenTaskID != taskID {
		return ErrTaskMismatch
	}
	return nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
