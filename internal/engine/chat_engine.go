package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/khangdo/janus/internal/llm"
	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

// apologyResponse is returned verbatim when response generation fails.
// The user's turn is already logged at that point, so the exchange stays
// recoverable.
const apologyResponse = "I apologize, but I encountered an error processing your request. Please try again."

// ChatConfig carries the retrieval tunables of a chat exchange.
type ChatConfig struct {
	// RecentTurns is the size of the verbatim history window.
	RecentTurns int
	// SemanticResults caps the semantic retrieval fan-out.
	SemanticResults int
}

// ChatResult is the outcome of one exchange: the generated reply plus the
// retrieved context that shaped it.
type ChatResult struct {
	ResponseText    string
	TemporalContext []types.RetrievalMatch
	SemanticContext []types.RetrievalMatch
}

// ChatEngine coordinates one chat exchange end to end: log the user turn,
// gather temporal and semantic context in parallel, generate the reply,
// and hand the finished exchange to the extraction pipeline. All
// collaborators are injected at construction; a request allocates nothing
// but its own working state.
type ChatEngine struct {
	log       storage.ConversationLog
	chat      llm.TextGenerator
	memorize  llm.TextGenerator
	synth     *TemporalSynthesizer
	filter    *RelevanceFilter
	retriever *SemanticRetriever
	reconcile *RecencyReconciler
	pipeline  *ExtractionPipeline
	config    ChatConfig

	now func() time.Time
}

// NewChatEngine wires the coordinator. The chat generator produces
// replies; the memorize generator handles the cheaper query rewriting.
func NewChatEngine(
	convLog storage.ConversationLog,
	chat, memorize llm.TextGenerator,
	synth *TemporalSynthesizer,
	filter *RelevanceFilter,
	retriever *SemanticRetriever,
	reconcile *RecencyReconciler,
	pipeline *ExtractionPipeline,
	config ChatConfig,
) *ChatEngine {
	return &ChatEngine{
		log:       convLog,
		chat:      chat,
		memorize:  memorize,
		synth:     synth,
		filter:    filter,
		retriever: retriever,
		reconcile: reconcile,
		pipeline:  pipeline,
		config:    config,
		now:       time.Now,
	}
}

// Chat runs one exchange. The only fatal failure is the initial append of
// the user's turn; every later stage degrades to an empty context or the
// apology reply instead of erroring.
func (e *ChatEngine) Chat(ctx context.Context, prompt string) (*ChatResult, error) {
	now := e.now()

	turnID, err := e.log.Append(ctx, prompt, types.RoleUser, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: logging user turn: %w", err)
	}

	var (
		temporal []types.RetrievalMatch
		semantic string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		temporal = e.temporalContext(groupCtx, prompt, now)
		return nil
	})
	group.Go(func() error {
		semantic = e.semanticContext(groupCtx, prompt, now)
		return nil
	})
	// The branches report through their captures, never through errors.
	_ = group.Wait()

	recent, err := e.log.RecentExcluding(ctx, e.config.RecentTurns, turnID)
	if err != nil {
		log.Printf("engine: recent history unavailable: %v", err)
		recent = nil
	}

	chatCtx := types.ChatContext{
		RecentTurns:     recent,
		TemporalMatches: temporal,
		SemanticContext: semantic,
	}

	response, err := e.chat.Complete(ctx, llm.ChatPrompt(prompt, chatCtx, now))
	if err != nil {
		log.Printf("engine: response generation failed: %v", err)
		response = apologyResponse
	} else {
		e.pipeline.Enqueue(prompt, response)
	}

	result := &ChatResult{
		ResponseText:    response,
		TemporalContext: temporal,
	}
	if semantic != "" {
		result.SemanticContext = []types.RetrievalMatch{{
			Text:     semantic,
			Metadata: map[string]any{"source": "filtered_by_importance"},
			Source:   types.SourceSemantic,
		}}
	}
	return result, nil
}

// History returns the full conversation in chronological order.
func (e *ChatEngine) History(ctx context.Context) ([]types.ConversationTurn, error) {
	return e.log.All(ctx)
}

// temporalContext runs the time-anchored branch: synthesize a predicate,
// query the log, keep only rows relevant to the utterance.
func (e *ChatEngine) temporalContext(ctx context.Context, prompt string, now time.Time) []types.RetrievalMatch {
	pred := e.synth.Synthesize(ctx, prompt, now)
	rows, err := e.log.Query(ctx, pred.SQL)
	if err != nil || len(rows) == 0 {
		return nil
	}
	return e.filter.Filter(ctx, prompt, rows)
}

// semanticContext runs the knowledge branch: rewrite the utterance into
// search keywords, retrieve, and distill the survivors by recency. The
// rewrite degrades to the raw utterance.
func (e *ChatEngine) semanticContext(ctx context.Context, prompt string, now time.Time) string {
	query := prompt
	if rewritten, err := e.memorize.Complete(ctx, llm.SearchQueryPrompt(prompt)); err != nil {
		log.Printf("engine: search query rewrite failed, using raw prompt: %v", err)
	} else if cleaned := llm.CleanSearchQuery(rewritten); cleaned != "" {
		query = cleaned
	}

	matches := e.retriever.Retrieve(ctx, query, e.config.SemanticResults)
	if len(matches) == 0 {
		return ""
	}
	return e.reconcile.Reconcile(ctx, matches, now)
}
