// outbox-dispatcher publishes committed sales events from the outbox table to
// Pub/Sub. Run it beside the server when the server's in-process dispatcher is
// disabled, or once with -once to drain a backlog.
//
// Usage:
//
//	go run ./cmd/outbox-dispatcher -topic=sales-events
//	go run ./cmd/outbox-dispatcher -once -batch=500
//
// Replay DEAD records before a run:
//
//	go run ./cmd/outbox-dispatcher -requeue=101,102 -once
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/repository"
	"github.com/mmdatafocus/sales_backend/workflow"
)

func main() {
	topic := flag.String("topic", "", "Pub/Sub topic (default: SALES_EVENTS_TOPIC)")
	once := flag.Bool("once", false, "Dispatch until the outbox is empty, then exit")
	batch := flag.Int("batch", 50, "Records claimed per batch")
	poll := flag.Duration("poll", 500*time.Millisecond, "Poll interval between batches")
	maxAttempts := flag.Int("max-attempts", 20, "Attempts before a record is marked DEAD")
	requeue := flag.String("requeue", "", "Comma separated outbox ids to move back to PENDING first")
	flag.Parse()

	settings, err := config.LoadSalesSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sales settings: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*topic) == "" {
		*topic = settings.EventsTopic
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	store := repository.NewGormStore(db)

	if ids, err := parseIDs(*requeue); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -requeue: %v\n", err)
		os.Exit(1)
	} else if len(ids) > 0 {
		n, err := store.RequeueOutbox(ctx, ids)
		if err != nil {
			fmt.Fprintf(os.Stderr, "requeue: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("requeued %d of %d records\n", n, len(ids))
	}

	d := workflow.NewOutboxDispatcher(store, integration.NewPubSubEventPublisher(*topic), config.GetLogger())
	d.BatchSize = *batch
	d.PollInterval = *poll
	d.MaxAttempts = *maxAttempts

	if !*once {
		d.Run(ctx)
		return
	}
	total := 0
	for ctx.Err() == nil {
		n, err := d.DispatchOnce(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dispatch: %v\n", err)
			os.Exit(1)
		}
		if n == 0 {
			break
		}
		total += n
	}
	fmt.Printf("published %d events\n", total)
}

func parseIDs(csv string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
