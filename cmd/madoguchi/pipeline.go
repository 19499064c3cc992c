package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ashita-ai/madoguchi/internal/classify"
	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/generate"
	"github.com/ashita-ai/madoguchi/internal/knowledge"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/routing"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/workflow"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

// pipeline holds the components shared by the HTTP API, the MCP server and
// batch replay.
type pipeline struct {
	classifier   *classify.Classifier
	retriever    *knowledge.Retriever
	memory       *memory.Store
	support      *support.Service
	orchestrator *workflow.Orchestrator
}

func buildPipeline(cfg config.Config, st *backend, wlog *workflowlog.Log, logger *slog.Logger) (*pipeline, error) {
	table, err := loadTable(cfg.KeywordsPath)
	if err != nil {
		return nil, err
	}
	articles, err := loadCorpus(cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	logger.Info("knowledge corpus loaded", "path", cfg.CorpusPath, "articles", len(articles))

	policy := escalation.New(cfg.Thresholds)
	levels := knowledge.Levels{
		High:   cfg.Thresholds.ConfidenceHigh,
		Medium: cfg.Thresholds.ConfidenceMedium,
		Low:    cfg.Thresholds.ConfidenceLow,
	}
	p := &pipeline{
		classifier: classify.New(table),
		retriever:  knowledge.NewRetriever(articles, levels, policy),
		memory: memory.New(st.longTerm, memory.Options{
			SessionTTL:    cfg.SessionTTL,
			SweepInterval: cfg.SessionSweepInterval,
			CacheTTL:      cfg.LongTermCacheTTL,
		}, logger),
		support: support.NewService(st.support, logger),
	}

	p.orchestrator = workflow.New(workflow.Deps{
		Classifier:   p.classifier,
		Retriever:    p.retriever,
		Policy:       policy,
		Router:       routing.New(),
		Memory:       p.memory,
		Log:          wlog,
		Generator:    newGenerator(cfg, logger),
		Support:      p.support,
		Outcomes:     st.outcomes,
		Logger:       logger,
		StageTimeout: cfg.StageTimeout,
		MaxTokens:    cfg.GeneratorMaxTokens,
	})
	return p, nil
}

func loadTable(path string) (*classify.Table, error) {
	if path == "" {
		table, err := classify.DefaultTable()
		if err != nil {
			return nil, fmt.Errorf("keyword table: %w", err)
		}
		return table, nil
	}
	table, err := classify.LoadTable(path)
	if err != nil {
		return nil, fmt.Errorf("keyword table: %w", err)
	}
	return table, nil
}

func loadCorpus(path string) ([]model.KnowledgeArticle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge corpus: %w", err)
	}
	var articles []model.KnowledgeArticle
	if info.IsDir() {
		articles, err = knowledge.LoadCorpusDir(path)
	} else {
		articles, err = knowledge.LoadCorpus(path)
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge corpus: %w", err)
	}
	return articles, nil
}

// newGenerator picks the response generator. An unreachable Ollama falls back
// to templates so the pipeline keeps answering.
func newGenerator(cfg config.Config, logger *slog.Logger) generate.Generator {
	budget, err := generate.NewBudget()
	if err != nil {
		logger.Warn("token budget unavailable, responses are not trimmed", "error", err)
	}
	if cfg.GeneratorProvider == config.GeneratorOllama {
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("generator: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
			return generate.NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaModel, cfg.GeneratorTimeout, budget)
		}
		logger.Warn("ollama not reachable, using template generator", "url", cfg.OllamaURL)
	}
	logger.Info("generator: template")
	return generate.NewTemplateGenerator(budget)
}
