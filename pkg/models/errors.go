package models

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed or missing request field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// Suggestion returns a hint for fixing the request
func (e *ValidationError) Suggestion() string {
	return "provide a non-empty prompt and a connection with a supported type (mysql, postgresql, sqlite)"
}

// Attempt records one failed connection attempt
type Attempt struct {
	Tier   Tier
	Params ConnectionParams
	Err    string
}

func (a Attempt) String() string {
	if a.Tier == TierExplicit {
		return "explicit parameters failed: " + a.Err
	}
	return fmt.Sprintf("%s failed with %s: %s", a.Tier, a.Params, a.Err)
}

// ConnectionExhaustedError is returned when no resolution tier produced a live handle
type ConnectionExhaustedError struct {
	Kind       Kind
	Attempts   []Attempt
	Capability *KindCapability
	Message    string
	Hint       string
}

func (e *ConnectionExhaustedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("could not connect to %s", e.Kind)
}

// Suggestion returns the operator-facing hint
func (e *ConnectionExhaustedError) Suggestion() string {
	if e.Hint != "" {
		return e.Hint
	}
	return fmt.Sprintf("verify that the %s server is running and that the credentials are correct", e.Kind)
}

// TiersTried lists the tiers that were attempted, in order
func (e *ConnectionExhaustedError) TiersTried() []string {
	var tiers []string
	seen := make(map[Tier]bool)
	for _, attempt := range e.Attempts {
		if !seen[attempt.Tier] {
			seen[attempt.Tier] = true
			tiers = append(tiers, attempt.Tier.String())
		}
	}
	return tiers
}

// SchemaUnavailableError reports that the connection is live but introspection failed
type SchemaUnavailableError struct {
	Kind Kind
	Err  error
}

func (e *SchemaUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("schema for %s is unavailable", e.Kind)
	}
	return fmt.Sprintf("schema for %s is unavailable: %v", e.Kind, e.Err)
}

func (e *SchemaUnavailableError) Unwrap() error { return e.Err }

// GenerationError reports that no SQL could be produced for a request
type GenerationError struct {
	Request string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "could not generate SQL: the model returned no usable output"
	}
	return fmt.Sprintf("could not generate SQL: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Suggestion returns a hint for fixing generation failures
func (e *GenerationError) Suggestion() string {
	return "check the language model provider configuration and try rephrasing the request"
}

// ExecutionError reports that the produced SQL failed at the database
type ExecutionError struct {
	Kind Kind
	SQL  string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query failed on %s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

const redacted = "********"

// Redact hides secret in msg. The userinfo forms ":secret@" and "password=secret" are always
// hidden. Elsewhere only standalone occurrences are, and none at all when secret equals one of
// keep (a user, host or database name the diagnostic needs to show).
func Redact(msg, secret string, keep ...string) string {
	if secret == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, ":"+secret+"@", ":"+redacted+"@")
	msg = strings.ReplaceAll(msg, "password="+secret, "password="+redacted)
	for _, k := range keep {
		if k == secret {
			return msg
		}
	}

	var b strings.Builder
	start := 0
	for {
		i := strings.Index(msg[start:], secret)
		if i < 0 {
			b.WriteString(msg[start:])
			break
		}
		i += start
		end := i + len(secret)
		b.WriteString(msg[start:i])
		if isTokenBoundary(msg[:i], true) && isTokenBoundary(msg[end:], false) {
			b.WriteString(redacted)
		} else {
			b.WriteString(secret)
		}
		start = end
	}
	return b.String()
}

// isTokenBoundary reports whether the text next to a match separates it from other words.
// Dots and colons do not, so addresses like 127.0.0.1:3306 are left alone.
func isTokenBoundary(side string, before bool) bool {
	if side == "" {
		return true
	}
	c := side[0]
	if before {
		c = side[len(side)-1]
	}
	return strings.IndexByte(" \t\r\n'\"`,;()[]", c) >= 0
}
