// Command verify-log recomputes the integrity hash of every workflow log
// entry and reports, per ticket, the trail root and any entries whose stored
// hash no longer matches their content.
//
// Usage:
//
//	go run ./scripts/verify-log                 # Postgres, from DATABASE_URL
//	go run ./scripts/verify-log workflow.jsonl  # JSONL file written by MADOGUCHI_LOG_FILE
//
// Exits non-zero when any entry was modified after it was recorded.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/storage"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

var errTampered = errors.New("tampered entries found")

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var sink workflowlog.Sink
	if len(os.Args) > 1 {
		sink = workflowlog.NewFileSink(os.Args[1])
	} else {
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			return fmt.Errorf("DATABASE_URL is required when no log file is given")
		}
		db, err := storage.New(ctx, dbURL, slog.New(slog.DiscardHandler))
		if err != nil {
			return err
		}
		defer db.Close()
		sink = db.WorkflowLog()
	}

	entries, err := sink.Query(ctx, model.LogFilter{})
	if err != nil {
		return err
	}

	byTicket := make(map[string][]model.WorkflowLogEntry)
	for _, e := range entries {
		byTicket[e.TicketID] = append(byTicket[e.TicketID], e)
	}
	ids := make([]string, 0, len(byTicket))
	for id := range byTicket {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tampered := 0
	for _, id := range ids {
		sum := workflowlog.Summarize(id, byTicket[id])
		status := "ok"
		if sum.Tampered > 0 {
			status = fmt.Sprintf("TAMPERED (%d)", sum.Tampered)
			tampered += sum.Tampered
		}
		fmt.Printf("%s\t%d entries\t%s\t%s\n", id, sum.TotalEntries, sum.TrailRoot, status)
	}
	fmt.Printf("verified %d entries across %d tickets, %d tampered\n", len(entries), len(ids), tampered)

	if tampered > 0 {
		return errTampered
	}
	return nil
}
