package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/workflow"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

// replayReport is what the replay subcommand prints.
type replayReport struct {
	Processed int                 `json:"processed"`
	Rejected  int                 `json:"rejected"`
	Errors    []replayError       `json:"errors,omitempty"`
	Stats     model.StatsResponse `json:"stats"`
}

type replayError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// replay runs every ticket of a JSONL file through an in-process pipeline
// and writes the aggregate statistics to out. Nothing is persisted except the
// optional workflow log file.
func replay(ctx context.Context, logger *slog.Logger, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: madoguchi replay <tickets.jsonl>")
	}
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer func() { _ = f.Close() }()

	st := memoryBackend()
	if err := seedCustomers(ctx, cfg, st, logger); err != nil {
		return err
	}
	var sink workflowlog.Sink = st.log
	if cfg.LogFilePath != "" {
		sink = workflowlog.NewMirrorSink(sink, workflowlog.NewFileSink(cfg.LogFilePath), logger)
	}
	wlog := workflowlog.New(sink, logger, cfg.LogBufferSize, cfg.LogFlushInterval)
	wlog.Start(ctx)
	defer wlog.Drain(context.Background())

	p, err := buildPipeline(cfg, st, wlog, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.memory.Close() }()

	report, err := replayTickets(ctx, p.orchestrator, f, cfg.BatchWorkers)
	if err != nil {
		return err
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.StageTimeout)
	defer waitCancel()
	if err := p.orchestrator.Wait(waitCtx); err != nil {
		logger.Warn("replay: stages still running at exit", "error", err)
	}
	logger.Info("replay complete", "processed", report.Processed, "rejected", report.Rejected)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// replayTickets decodes one SubmitTicketRequest per line. Blank lines are
// skipped; undecodable lines are reported and do not stop the run.
func replayTickets(ctx context.Context, orch *workflow.Orchestrator, r io.Reader, workers int) (replayReport, error) {
	var (
		report  replayReport
		tickets []model.Ticket
		lines   []int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var req model.SubmitTicketRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, replayError{Line: n, Error: fmt.Sprintf("decode: %v", err)})
			continue
		}
		tickets = append(tickets, model.NewTicket(req.TicketID, req.Text, req.Metadata))
		lines = append(lines, n)
	}
	if err := sc.Err(); err != nil {
		return replayReport{}, fmt.Errorf("replay: read: %w", err)
	}

	results, err := orch.ProcessBatch(ctx, tickets, workers)
	if err != nil {
		return replayReport{}, fmt.Errorf("replay: %w", err)
	}
	outcomes := make([]model.TicketOutcome, 0, len(results))
	for i, res := range results {
		if res.Outcome == nil {
			report.Rejected++
			report.Errors = append(report.Errors, replayError{Line: lines[i], Error: res.Error})
			continue
		}
		report.Processed++
		outcomes = append(outcomes, *res.Outcome)
	}
	report.Stats = workflow.Statistics(outcomes)
	return report, nil
}

// memoryBackend keeps everything in process.
func memoryBackend() *backend {
	customers := support.NewMemoryStore()
	return &backend{
		log:      workflowlog.NewMemorySink(),
		longTerm: memory.NewMapBackend(),
		outcomes: workflow.NewMemoryOutcomeStore(),
		support:  customers,
		seed: func(_ context.Context, s support.Seed) error {
			customers.Load(s)
			return nil
		},
		ping:  func(context.Context) error { return nil },
		close: func() {},
	}
}
