package engine

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/khangdo/janus/internal/llm"
	"github.com/khangdo/janus/pkg/types"
)

// unknownAge marks a match whose creation instant could not be recovered
// from its metadata. For the fallback policy it counts as infinitely old.
const unknownAge = -1

// RecencyReconciler decides which semantic matches are still current. The
// importance judgement itself is delegated to the generation capability;
// this component owns only the age annotation and the fallback policy, and
// always terminates in a definite string or an empty context.
type RecencyReconciler struct {
	generator llm.TextGenerator
}

// NewRecencyReconciler creates a reconciler delegating to the generator.
func NewRecencyReconciler(generator llm.TextGenerator) *RecencyReconciler {
	return &RecencyReconciler{generator: generator}
}

// Reconcile folds the matches' ages into a single distilled context block.
// When the delegate call fails, the raw text of the youngest known-age
// match is used instead; an empty input yields an empty context. It never
// returns an error.
func (r *RecencyReconciler) Reconcile(ctx context.Context, matches []types.RetrievalMatch, now time.Time) string {
	if len(matches) == 0 {
		return ""
	}

	facts := make([]llm.FactWithAge, len(matches))
	for i, match := range matches {
		facts[i] = llm.FactWithAge{
			Text:    match.Text,
			AgeDays: ageInDays(match.Metadata, now),
		}
	}

	distilled, err := r.generator.Complete(ctx, llm.RecencyPrompt(facts))
	if err != nil {
		log.Printf("engine: recency reconciliation failed, using youngest match: %v", err)
		return youngestSurvivor(facts)
	}
	return strings.TrimSpace(distilled)
}

// youngestSurvivor picks the fact with the smallest known age.
// Unknown-age facts lose to any known age; when no age is known at all the
// first fact wins.
func youngestSurvivor(facts []llm.FactWithAge) string {
	best := facts[0]
	for _, fact := range facts[1:] {
		if fact.AgeDays == unknownAge {
			continue
		}
		if best.AgeDays == unknownAge || fact.AgeDays < best.AgeDays {
			best = fact
		}
	}
	return best.Text
}

// ageInDays computes the whole-day age of a match from its metadata.
// Both the RFC 3339 created_at form and a raw epoch timestamp are
// accepted; anything missing or unparseable yields the unknown sentinel,
// never an error.
func ageInDays(metadata map[string]any, now time.Time) int {
	created, ok := creationInstant(metadata)
	if !ok {
		return unknownAge
	}
	days := int(now.Sub(created).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func creationInstant(metadata map[string]any) (time.Time, bool) {
	if raw, ok := metadata["created_at"].(string); ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts, true
		}
	}

	switch raw := metadata["timestamp"].(type) {
	case float64:
		return time.Unix(int64(raw), 0), true
	case string:
		if epoch, err := strconv.ParseFloat(raw, 64); err == nil {
			return time.Unix(int64(epoch), 0), true
		}
	}
	return time.Time{}, false
}
