package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

type chatFixture struct {
	engine   *ChatEngine
	convLog  *fakeConversationLog
	store    *fakeSemanticStore
	chatGen  *fakeGenerator
	pipeline *ExtractionPipeline
}

// newChatFixture wires a full engine over in-memory fakes. The defaults
// make both retrieval branches productive; tests override fields to force
// degradation.
func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	convLog := &fakeConversationLog{
		rows: []storage.RowMap{
			{"content": "launch plans", "datetime": "2024-03-14 10:00:00", "role": "user"},
		},
	}
	store := &fakeSemanticStore{matches: []types.RetrievalMatch{
		semanticMatch("User is planning a product launch", 0.9),
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"what did we plan?": unit(1, 0, 0),
		"launch plans":      unit(1, 0, 0),
	}}

	chatGen := &fakeGenerator{response: "We planned the launch."}
	memorizeGen := &fakeGenerator{response: "product launch plan"}
	synthGen := &fakeGenerator{response: "not sql at all"}
	recencyGen := &fakeGenerator{response: "User is planning a product launch."}
	extractGen := &flakyGenerator{response: "1. A launch is planned"}

	pipeline := NewExtractionPipeline(
		ExtractionConfig{QueueSize: 10, NumWorkers: 1, MaxRetries: 1, ShutdownTimeout: 5 * time.Second},
		convLog, store, extractGen,
	)
	pipeline.backoffUnit = time.Millisecond
	pipeline.Start(context.Background())
	t.Cleanup(func() { _ = pipeline.Shutdown(context.Background()) })

	engine := NewChatEngine(
		convLog,
		chatGen, memorizeGen,
		NewTemporalSynthesizer(synthGen, false),
		NewRelevanceFilter(embedder, 0.5),
		NewSemanticRetriever(store, 0.3),
		NewRecencyReconciler(recencyGen),
		pipeline,
		ChatConfig{RecentTurns: 10, SemanticResults: 6},
	)
	return &chatFixture{
		engine:   engine,
		convLog:  convLog,
		store:    store,
		chatGen:  chatGen,
		pipeline: pipeline,
	}
}

func TestChatAssemblesBothBranches(t *testing.T) {
	fx := newChatFixture(t)

	result, err := fx.engine.Chat(context.Background(), "what did we plan?")
	require.NoError(t, err)

	assert.Equal(t, "We planned the launch.", result.ResponseText)

	require.Len(t, result.TemporalContext, 1)
	assert.Equal(t, "launch plans", result.TemporalContext[0].Text)
	assert.Equal(t, types.SourceTemporal, result.TemporalContext[0].Source)

	require.Len(t, result.SemanticContext, 1)
	assert.Equal(t, "User is planning a product launch.", result.SemanticContext[0].Text)
	assert.Equal(t, "filtered_by_importance", result.SemanticContext[0].Metadata["source"])
}

func TestChatLogsUserTurnFirst(t *testing.T) {
	fx := newChatFixture(t)

	_, err := fx.engine.Chat(context.Background(), "what did we plan?")
	require.NoError(t, err)

	require.NotEmpty(t, fx.convLog.turns)
	assert.Equal(t, types.RoleUser, fx.convLog.turns[0].Role)
	assert.Equal(t, "what did we plan?", fx.convLog.turns[0].Content)
}

func TestChatExtractionRunsDetached(t *testing.T) {
	fx := newChatFixture(t)

	_, err := fx.engine.Chat(context.Background(), "what did we plan?")
	require.NoError(t, err)
	require.NoError(t, fx.pipeline.Shutdown(context.Background()))

	turns, err := fx.convLog.All(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 2, "user turn plus the assistant turn logged by extraction")
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Equal(t, "We planned the launch.", turns[1].Content)
	require.Len(t, fx.store.added, 1)
	assert.Equal(t, "A launch is planned", fx.store.added[0].Text)
}

func TestChatAppendFailureIsFatal(t *testing.T) {
	fx := newChatFixture(t)
	fx.convLog.failFirst = 1

	result, err := fx.engine.Chat(context.Background(), "what did we plan?")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Zero(t, fx.chatGen.calls, "generation must not run without the logged turn")
}

func TestChatGenerationFailureYieldsApology(t *testing.T) {
	fx := newChatFixture(t)
	fx.chatGen.err = errors.New("model unavailable")

	result, err := fx.engine.Chat(context.Background(), "what did we plan?")
	require.NoError(t, err)
	assert.Equal(t, apologyResponse, result.ResponseText)

	require.NoError(t, fx.pipeline.Shutdown(context.Background()))
	turns, err := fx.convLog.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, turns, 1, "the apology is not logged or extracted")
	assert.Empty(t, fx.store.added)
}

func TestChatDegradesToEmptyContexts(t *testing.T) {
	fx := newChatFixture(t)
	fx.convLog.rows = nil
	fx.store.matches = nil
	fx.store.searchErr = errors.New("store offline")

	result, err := fx.engine.Chat(context.Background(), "what did we plan?")
	require.NoError(t, err)

	assert.Equal(t, "We planned the launch.", result.ResponseText)
	assert.Empty(t, result.TemporalContext)
	assert.Empty(t, result.SemanticContext)
}

func TestChatHistoryExcludesCurrentTurnFromPrompt(t *testing.T) {
	fx := newChatFixture(t)

	_, err := fx.engine.Chat(context.Background(), "remember my name is Khang")
	require.NoError(t, err)
	require.NoError(t, fx.pipeline.Shutdown(context.Background()))

	// The second exchange should see the first one as history but never
	// its own freshly logged turn.
	fx.chatGen.prompt = ""
	_, err = fx.engine.Chat(context.Background(), "what is my name?")
	require.NoError(t, err)

	assert.Contains(t, fx.chatGen.prompt, "remember my name is Khang")
	assert.NotContains(t, fx.chatGen.prompt, "User: what is my name?\n",
		"the query turn must not appear in its own history window")
}

func TestChatHistoryReturnsAllTurns(t *testing.T) {
	fx := newChatFixture(t)

	_, err := fx.engine.Chat(context.Background(), "first message")
	require.NoError(t, err)
	require.NoError(t, fx.pipeline.Shutdown(context.Background()))

	turns, err := fx.engine.History(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
}
