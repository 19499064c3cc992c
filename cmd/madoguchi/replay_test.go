package main

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

func testConfig() config.Config {
	return config.Config{
		CorpusPath:        "../../data/articles.jsonl",
		CustomersPath:     "../../data/customers.yaml",
		Thresholds:        config.DefaultThresholds(),
		StageTimeout:      5 * time.Second,
		LogBufferSize:     10_000,
		LogFlushInterval:  time.Hour,
		GeneratorProvider: config.GeneratorTemplate,
	}
}

func TestReplayTickets(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	cfg := testConfig()

	st := memoryBackend()
	require.NoError(t, seedCustomers(ctx, cfg, st, logger))
	wlog := workflowlog.New(st.log, logger, cfg.LogBufferSize, cfg.LogFlushInterval)
	p, err := buildPipeline(cfg, st, wlog, logger)
	require.NoError(t, err)

	input := strings.Join([]string{
		`{"ticket_id":"R-1","text":"How do I reserve an event?","metadata":{"user_id":"user_002"}}`,
		``,
		`{"ticket_id":"R-2","text":"I want to speak to a human agent now","metadata":{"user_id":"user_001"}}`,
		`not json`,
		`{"ticket_id":"R-3","text":"no user"}`,
	}, "\n")

	report, err := replayTickets(ctx, p.orchestrator, strings.NewReader(input), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Rejected)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 4, report.Errors[0].Line)
	assert.Contains(t, report.Errors[0].Error, "decode")
	assert.Equal(t, 5, report.Errors[1].Line)
	assert.Contains(t, report.Errors[1].Error, "user_id")

	assert.Equal(t, 2, report.Stats.Routing.TotalTickets)
	assert.InDelta(t, 0.5, report.Stats.Routing.EscalationRate, 1e-9)

	out, err := p.orchestrator.Outcome(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageCompletion, out.FinalStage)
}

func TestReplay_Usage(t *testing.T) {
	err := replay(context.Background(), slog.New(slog.DiscardHandler), nil, &strings.Builder{})
	assert.ErrorContains(t, err, "usage")
}

func TestLoadCorpus_MissingPath(t *testing.T) {
	_, err := loadCorpus("does-not-exist.jsonl")
	assert.ErrorContains(t, err, "knowledge corpus")
}
