package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a non-negative time.Duration read from YAML or environment
// variables. Text is a Go duration ("90s", "30m") or a whole number of
// seconds, so TRANSITD_SESSION_IDLE_TTL=1800 is thirty minutes.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, aerr := strconv.Atoi(s)
		if aerr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		parsed = time.Duration(secs) * time.Second
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) String() string { return d.Duration().String() }

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

const redacted = "[REDACTED]"

// Secret holds pattern store DSNs, Redis passwords and collaborator API keys.
// Every printing or encoding path redacts it; only Value returns the content.
type Secret string

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Redacted keeps the scheme of a URL-style DSN so logs still show which
// backend was meant: "postgres://u:pw@db/transitd" becomes
// "postgres://[REDACTED]". Other values redact fully.
func (s Secret) Redacted() string {
	if scheme, _, ok := strings.Cut(string(s), "://"); ok && scheme != "" {
		return scheme + "://" + redacted
	}
	return s.String()
}

func (s Secret) GoString() string { return "config.Secret(" + redacted + ")" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
