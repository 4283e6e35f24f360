// Package engine implements the hybrid memory pipeline: temporal window
// synthesis, relevance filtering, semantic retrieval, recency
// reconciliation, asynchronous fact extraction, and the chat engine that
// coordinates them per request.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/khangdo/janus/internal/llm"
)

// Predicate is a validated read-predicate over the conversation log,
// together with how it was obtained. There are exactly two terminal
// states: a candidate that passed validation, or the fixed fallback.
type Predicate struct {
	SQL      string
	Fallback bool
}

// TemporalSynthesizer turns a free-text utterance plus the current instant
// into a restricted SQL predicate. The model doing the translation is an
// untrusted external capability: whatever it returns is validated against
// a fixed allow-list, and any violation discards the candidate in favor of
// the same-day fallback. One call, validate, fall back - no retries.
type TemporalSynthesizer struct {
	generator    llm.TextGenerator
	allowContent bool
}

// NewTemporalSynthesizer creates a synthesizer. allowContent permits the
// synthesized predicate to project the content column back into context;
// it is a deployment toggle, off by default.
func NewTemporalSynthesizer(generator llm.TextGenerator, allowContent bool) *TemporalSynthesizer {
	return &TemporalSynthesizer{generator: generator, allowContent: allowContent}
}

// Synthesize produces a validated predicate for the utterance. It never
// fails: synthesis errors and rejected candidates both resolve to the
// fallback predicate.
func (s *TemporalSynthesizer) Synthesize(ctx context.Context, utterance string, now time.Time) Predicate {
	response, err := s.generator.Complete(ctx, llm.TemporalQueryPrompt(utterance, now))
	if err != nil {
		log.Printf("engine: temporal synthesis failed: %v", err)
		return fallbackPredicate(now)
	}

	candidate := llm.CleanSQLResponse(response)
	if err := ValidatePredicate(candidate, s.allowContent); err != nil {
		log.Printf("engine: rejected synthesized predicate %q: %v", candidate, err)
		return fallbackPredicate(now)
	}
	return Predicate{SQL: candidate}
}

// fallbackPredicate selects the turns of the current calendar day in
// ascending time order, uncapped within the day.
func fallbackPredicate(now time.Time) Predicate {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	sql := fmt.Sprintf(
		"SELECT datetime(timestamp, 'unixepoch') AS datetime, role FROM conversations WHERE timestamp >= %d AND timestamp < %d ORDER BY timestamp ASC",
		dayStart.Unix(), dayEnd.Unix())
	return Predicate{SQL: sql, Fallback: true}
}

// mutation and structure keywords that disqualify a candidate outright.
var forbiddenKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create",
	"attach", "detach", "pragma", "vacuum", "replace",
	"union", "join", "with",
}

// ValidatePredicate checks a synthesized predicate against the fixed
// policy: a single read-only SELECT over the conversations table, an
// allow-listed projection, and an explicit result cap. allowContent adds
// the content column to the projection allow-list.
func ValidatePredicate(candidate string, allowContent bool) error {
	lower := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(candidate), ";"))
	if lower == "" {
		return fmt.Errorf("empty predicate")
	}

	if !strings.HasPrefix(lower, "select ") {
		return fmt.Errorf("not a SELECT statement")
	}
	if strings.Contains(lower, ";") {
		return fmt.Errorf("multiple statements")
	}
	if strings.Contains(lower, "--") || strings.Contains(lower, "/*") {
		return fmt.Errorf("comment syntax not allowed")
	}

	for _, kw := range forbiddenKeywords {
		if containsWord(lower, kw) {
			return fmt.Errorf("forbidden keyword %q", kw)
		}
	}

	fromIdx := strings.Index(lower, " from ")
	if fromIdx < 0 {
		return fmt.Errorf("missing FROM clause")
	}
	rest := lower[fromIdx+len(" from "):]
	if !strings.HasPrefix(strings.TrimSpace(rest), "conversations") {
		return fmt.Errorf("must target the conversations table")
	}
	if strings.Contains(rest, " from ") {
		return fmt.Errorf("multiple FROM clauses")
	}

	if err := validateProjection(lower[len("select "):fromIdx], allowContent); err != nil {
		return err
	}

	if !containsWord(lower, "limit") {
		return fmt.Errorf("missing result cap")
	}
	return nil
}

// validateProjection checks that the select list references only
// allow-listed columns.
func validateProjection(selectList string, allowContent bool) error {
	// The rendered-instant expression is the one function call permitted.
	normalized := strings.ReplaceAll(selectList, "datetime(timestamp, 'unixepoch')", "rendered_instant")
	normalized = strings.ReplaceAll(normalized, "datetime(timestamp,'unixepoch')", "rendered_instant")

	if strings.ContainsAny(normalized, "()") {
		return fmt.Errorf("function calls not allowed in projection")
	}

	for _, item := range strings.Split(normalized, ",") {
		item = strings.TrimSpace(item)
		// Strip an "AS alias" suffix.
		if idx := strings.Index(item, " as "); idx >= 0 {
			alias := strings.TrimSpace(item[idx+len(" as "):])
			if alias != "datetime" && alias != "role" && alias != "timestamp" && alias != "content" {
				return fmt.Errorf("disallowed alias %q", alias)
			}
			item = strings.TrimSpace(item[:idx])
		}

		switch item {
		case "rendered_instant", "role", "timestamp", "id":
		case "content":
			if !allowContent {
				return fmt.Errorf("content projection is disabled")
			}
		default:
			return fmt.Errorf("disallowed column %q", item)
		}
	}
	return nil
}

// containsWord reports whether s contains word bounded by non-identifier
// characters, so "created" does not trip the "create" check.
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isIdentChar(s[start-1])
		afterOK := end == len(s) || !isIdentChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
