// bulk-convert-quotes converts accepted quotes into Draft sales orders and prints
// one line per quote.
//
// Usage:
//
//	go run ./cmd/bulk-convert-quotes -quotes=<id>,<id>
//	go run ./cmd/bulk-convert-quotes -file=quotes.txt -parallel=8
//
// The file holds one quote id per line; "id@version" pins the version the
// operator reviewed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/repository"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/mmdatafocus/sales_backend/workflow"
)

func main() {
	quotes := flag.String("quotes", "", "Comma separated quote ids (id or id@version)")
	file := flag.String("file", "", "File with one quote id per line")
	parallel := flag.Int("parallel", 0, "Concurrent conversions (default: SALES_BULK_PARALLELISM)")
	flag.Parse()

	refs, err := collectRefs(*quotes, *file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(refs) == 0 {
		fmt.Fprintln(os.Stderr, "--quotes or --file is required")
		os.Exit(1)
	}

	settings, err := config.LoadSalesSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sales settings: %v\n", err)
		os.Exit(1)
	}
	if *parallel > 0 {
		settings.BulkParallelism = *parallel
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx, cid := utils.EnsureCorrelationId(context.Background())
	ctx = utils.SetSourceInContext(ctx, "bulk-convert-quotes")

	opts := []workflow.Option{workflow.WithLogger(config.GetLogger())}
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		config.ConnectRedisWithRetry(ctx)
		opts = append(opts, workflow.WithLocker(utils.NewRedisDocumentLocker(config.GetRedisLock())))
	}
	engine, err := workflow.NewEngine(repository.NewGormStore(db), settings, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("correlation id %s, converting %d quotes\n", cid, len(refs))
	failed := 0
	for _, r := range engine.BulkConvertQuotes(ctx, refs) {
		if r.OK() {
			fmt.Printf("%s\tOK\torder=%s\n", r.SourceID, r.ResultID)
			continue
		}
		failed++
		fmt.Printf("%s\tFAILED\t%s\t%v\n", refs[r.Index].ID, models.KindOf(r.Err), r.Err)
	}
	fmt.Printf("converted %d, failed %d\n", len(refs)-failed, failed)
	if failed > 0 {
		os.Exit(2)
	}
}

func collectRefs(csv string, path string) ([]models.DocumentRef, error) {
	var raw []string
	raw = append(raw, strings.Split(csv, ",")...)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			raw = append(raw, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	var refs []models.DocumentRef
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		id, version, found := strings.Cut(s, "@")
		ref := models.DocumentRef{ID: id}
		if found {
			v, err := strconv.Atoi(version)
			if err != nil {
				return nil, fmt.Errorf("quote %q: bad version: %w", s, err)
			}
			ref.Version = v
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
