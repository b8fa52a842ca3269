// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// recordDelimiter separates the fields of a stored record. It occurs in
// neither ULIDs nor IPv4/IPv6 text forms.
const recordDelimiter = "_"

// ErrMalformedRecord is returned when a stored session value cannot be decoded.
var ErrMalformedRecord = errors.New("malformed session record")

// Record is the value stored for a session id.
type Record struct {
	UserID    string
	IP        string
	CreatedAt time.Time
}

// Encode serializes r as "<user_id>_<ip>_<created_at_ms>".
func Encode(r Record) string {
	return strings.Join([]string{
		r.UserID,
		r.IP,
		strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
	}, recordDelimiter)
}

// Decode parses a value produced by Encode.
func Decode(value string) (Record, error) {
	parts := strings.Split(value, recordDelimiter)
	if len(parts) != 3 {
		return Record{}, oops.Code("SESSION_RECORD_MALFORMED").
			With("parts", len(parts)).
			Wrap(ErrMalformedRecord)
	}

	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Record{}, oops.Code("SESSION_RECORD_MALFORMED").
			With("created_at", parts[2]).
			Wrapf(ErrMalformedRecord, "parse created_at: %v", err)
	}

	return Record{
		UserID:    parts[0],
		IP:        parts[1],
		CreatedAt: time.UnixMilli(ms),
	}, nil
}

// ExpiredAt reports whether the record has outlived lifetime at now.
// A record is expired only once created_at + lifetime is strictly before now.
func (r Record) ExpiredAt(now time.Time, lifetime time.Duration) bool {
	return r.CreatedAt.UnixMilli()+lifetime.Milliseconds() < now.UnixMilli()
}
