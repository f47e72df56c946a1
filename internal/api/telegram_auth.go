package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// maxAuthAge is how old a login payload may be
	maxAuthAge = 86400 * time.Second
	// maxClockSkew is how far in the future auth_date may lie
	maxClockSkew = 60 * time.Second
)

var (
	ErrAuthHashMissing = errors.New("auth hash missing")
	ErrAuthHashInvalid = errors.New("auth hash mismatch")
	ErrAuthExpired     = errors.New("auth data expired")
	ErrAuthMalformed   = errors.New("auth data malformed")
)

// TelegramUser is the identity carried by a verified login payload
type TelegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// authFields flattens a decoded JSON object into the string form the
// signature covers
func authFields(raw map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
		default:
			return nil, fmt.Errorf("%w: field %s", ErrAuthMalformed, k)
		}
	}
	return out, nil
}

// VerifyTelegram checks a login widget payload signed with botToken.
// The key is SHA-256(botToken); the signature is the hex HMAC-SHA-256 of
// the sorted key=value lines without the hash field.
func VerifyTelegram(fields map[string]string, botToken string, now time.Time) (TelegramUser, error) {
	hash := fields["hash"]
	if hash == "" {
		return TelegramUser{}, ErrAuthHashMissing
	}

	want := signTelegram(fields, botToken)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(hash))) {
		return TelegramUser{}, ErrAuthHashInvalid
	}

	authDate, err := strconv.ParseInt(fields["auth_date"], 10, 64)
	if err != nil {
		return TelegramUser{}, fmt.Errorf("%w: auth_date", ErrAuthMalformed)
	}
	age := now.Sub(time.Unix(authDate, 0))
	if age > maxAuthAge || age < -maxClockSkew {
		return TelegramUser{}, ErrAuthExpired
	}

	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil || id <= 0 {
		return TelegramUser{}, fmt.Errorf("%w: id", ErrAuthMalformed)
	}
	return TelegramUser{ID: id, Username: fields["username"], FirstName: fields["first_name"]}, nil
}

// signTelegram computes the hex signature of fields
func signTelegram(fields map[string]string, botToken string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + fields[k]
	}
	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
