// Package main implements the telemetra-redrive tool.
// It replays dead-lettered records back into the live store once the
// underlying store failure has been resolved.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/telemetra/telemetra/internal/deadletter"
	"github.com/telemetra/telemetra/internal/store"
	"github.com/telemetra/telemetra/pkg/retry"
)

func main() {
	var (
		dlqDir   string
		dbPath   string
		dryRun   bool
		remove   bool
		timeout  time.Duration
		showHelp bool
	)

	flag.StringVar(&dlqDir, "dlq-dir", "./data/telemetra/deadletter", "Dead-letter log directory")
	flag.StringVar(&dbPath, "db", "./data/telemetra/records.db", "Record store database path")
	flag.BoolVar(&dryRun, "dry-run", false, "List entries without writing them")
	flag.BoolVar(&remove, "remove", false, "Delete segments after a fully successful replay")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Overall replay timeout")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Telemetra Redrive - Replay dead-lettered telemetry records\n\n")
		fmt.Fprintf(os.Stderr, "Usage: telemetra-redrive [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  telemetra-redrive --dry-run\n")
		fmt.Fprintf(os.Stderr, "  telemetra-redrive --dlq-dir /data/telemetra/deadletter --db /data/telemetra/records.db --remove\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	segments, err := deadletter.Segments(dlqDir)
	if err != nil {
		log.Fatalf("Failed to list dead-letter segments: %v", err)
	}
	if len(segments) == 0 {
		log.Printf("No dead-letter segments in %s", dlqDir)
		return
	}
	log.Printf("Found %d dead-letter segment(s) in %s", len(segments), dlqDir)

	if dryRun {
		total := 0
		for _, seg := range segments {
			entries, err := deadletter.ReadEntries(seg)
			if err != nil {
				log.Fatalf("Failed to read %s: %v", seg, err)
			}
			for _, e := range entries {
				log.Printf("  device=%s timestamp=%d reason=%q queued=%s",
					e.Record.Key.DeviceID, e.Record.Key.Timestamp, e.Reason, e.QueuedAt.Format(time.RFC3339))
			}
			total += len(entries)
		}
		log.Printf("Dry run: %d entr(ies) would be replayed", total)
		return
	}

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer st.Close()

	writer := store.NewRetryWriter(st, retry.DefaultConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var replayed, failed int
	for _, seg := range segments {
		entries, err := deadletter.ReadEntries(seg)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", seg, err)
		}

		segFailed := 0
		for _, e := range entries {
			record := e.Record
			if err := writer.Put(ctx, &record); err != nil {
				log.Printf("Replay failed for device=%s timestamp=%d: %v",
					record.Key.DeviceID, record.Key.Timestamp, err)
				segFailed++
				continue
			}
			replayed++
		}
		failed += segFailed

		if remove && segFailed == 0 {
			if err := os.Remove(seg); err != nil {
				log.Printf("Failed to remove %s: %v", seg, err)
			} else {
				log.Printf("Removed %s", seg)
			}
		}
	}

	log.Printf("Redrive complete: %d replayed, %d failed", replayed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
