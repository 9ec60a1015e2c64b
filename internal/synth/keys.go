package synth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identifiers are composite keys encoding their parents positionally:
//
//	user_id    = user_<zero-padded index>
//	session_id = <user_id>_<YYYYMMDD>_<session ordinal>
//	event_id   = <session_id>_<event ordinal>
//
// The date and ordinals are numeric, so a key parses back unambiguously from
// the right even though user ids contain underscores. Distinct users, dates
// or ordinals always yield distinct ids.

const keyDateLayout = "20060102"

// FormatUserID returns the id of the user at zero-based index i in a
// population of total users.
func FormatUserID(i, total int) string {
	return fmt.Sprintf("user_%0*d", userIDWidth(total), i+1)
}

func userIDWidth(total int) int {
	return max(4, len(strconv.Itoa(total)))
}

// SessionKey identifies one session of a user on a calendar date.
type SessionKey struct {
	UserID  string
	Date    time.Time
	Ordinal int
}

func (k SessionKey) String() string {
	return k.UserID + "_" + k.Date.Format(keyDateLayout) + "_" + strconv.Itoa(k.Ordinal)
}

// ParseSessionKey is the inverse of SessionKey.String.
func ParseSessionKey(id string) (SessionKey, error) {
	rest, ordinal, err := cutOrdinal(id)
	if err != nil {
		return SessionKey{}, fmt.Errorf("session id %q: %w", id, err)
	}
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return SessionKey{}, fmt.Errorf("session id %q: missing date", id)
	}
	date, err := time.Parse(keyDateLayout, rest[i+1:])
	if err != nil {
		return SessionKey{}, fmt.Errorf("session id %q: %w", id, err)
	}
	return SessionKey{UserID: rest[:i], Date: date, Ordinal: ordinal}, nil
}

// EventKey identifies one event within a session.
type EventKey struct {
	Session SessionKey
	Ordinal int
}

func (k EventKey) String() string {
	return k.Session.String() + "_" + strconv.Itoa(k.Ordinal)
}

// ParseEventKey is the inverse of EventKey.String.
func ParseEventKey(id string) (EventKey, error) {
	rest, ordinal, err := cutOrdinal(id)
	if err != nil {
		return EventKey{}, fmt.Errorf("event id %q: %w", id, err)
	}
	session, err := ParseSessionKey(rest)
	if err != nil {
		return EventKey{}, fmt.Errorf("event id %q: %w", id, err)
	}
	return EventKey{Session: session, Ordinal: ordinal}, nil
}

func cutOrdinal(id string) (string, int, error) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 {
		return "", 0, errors.New("missing ordinal")
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("bad ordinal %q", id[i+1:])
	}
	return id[:i], n, nil
}
