package core

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/therealutkarshpriyadarshi/virex/internal/shield"
)

const (
	// AuthCodeLength is the length of a one-time app login code
	AuthCodeLength = 8
	// DefaultAuthCodeTTL applies when auth.deeplinkTTL is unset
	DefaultAuthCodeTTL = 10 * time.Minute
)

// IssueAuthCode creates a one-time login code for userID. Only its bcrypt
// hash is stored; a new code replaces any earlier one.
func (c *Core) IssueAuthCode(userID int64) (string, time.Time, error) {
	code, err := shield.Code(rand.Reader, AuthCodeLength)
	if err != nil {
		return "", time.Time{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to hash auth code: %w", err)
	}

	ttl := c.cfg.Auth.DeeplinkTTL
	if ttl <= 0 {
		ttl = DefaultAuthCodeTTL
	}
	expires := c.now().Add(ttl)
	c.quota.SetAuthCode(userID, string(hash), expires)
	c.logger.WithUserID(userID).Info("Auth code issued")
	return code, expires, nil
}

// RedeemAuthCode consumes userID's code when it matches. Codes are
// compared case-insensitively.
func (c *Core) RedeemAuthCode(userID int64, code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != AuthCodeLength {
		return false
	}
	return c.quota.ConsumeAuthCode(userID, func(hash string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
	})
}
