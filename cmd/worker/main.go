package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/gcsuploader"
	infraBQ "github.com/mafutapass/receipts/internal/infra/bigquery"
	"github.com/mafutapass/receipts/internal/jobs"
	"github.com/mafutapass/receipts/internal/jobs/inmemory"
	"github.com/mafutapass/receipts/internal/logger"
	"github.com/mafutapass/receipts/internal/processor"
	"github.com/mafutapass/receipts/internal/template"
)

// The worker sweeps receipts stuck without an AI categorization and runs the
// enhancement for them. The API service normally schedules these jobs itself;
// the sweep catches records orphaned by crashes or deploys.
func main() {
	var (
		bucket    = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket holding receipt images (or set GCS_BUCKET env)")
		model     = flag.String("model", enhance.DefaultModelName, "Gemini model for receipt categorization")
		interval  = flag.Duration("interval", 5*time.Minute, "Sweep interval")
		batchSize = flag.Int("batch", 25, "Receipts per sweep")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	if *bucket == "" {
		log.Fatal().Msg("No GCS bucket configured - receipt images cannot be fetched")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiptRepo, err := infraBQ.NewReceiptRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create receipt repository")
	}
	defer receiptRepo.Close()

	expenseRepo, err := infraBQ.NewExpenseRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create expense repository")
	}
	defer expenseRepo.Close()

	// Initialize job store and queue
	// In production, this would be replaced with Cloud Tasks or Pub/Sub
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	proc := processor.New(processor.DefaultConfig(), processor.Deps{
		Enhancer: enhance.NewEnhancer(enhance.NewGeminiModel(*model)),
		Registry: template.DefaultRegistry(),
		Receipts: receiptRepo,
		Objects:  gcsuploader.NewGCSObjectStore(*bucket),
		Queue:    jobQueue,
	})

	log.Info().Msg("Starting worker service")

	// Start consuming jobs
	if err := jobQueue.Start(ctx, proc.EnhanceHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Sweep loop: enqueue enhancement for receipts still missing one.
	go func() {
		scheduled := make(map[string]bool)
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		sweep := func() {
			records, err := receiptRepo.ListUnprocessed(ctx, *batchSize)
			if err != nil {
				log.Error().Err(err).Msg("Sweep query failed")
				return
			}
			for _, rec := range records {
				if scheduled[rec.ID] || rec.AIPayload != nil {
					continue
				}
				job := &jobs.EnhanceReceiptJob{
					JobID:      uuid.NewString(),
					ReceiptID:  rec.ID,
					Status:     jobs.JobStatusPending,
					CreatedAt:  time.Now().UTC(),
					MaxRetries: 3,
				}
				if err := jobQueue.PublishEnhanceReceipt(ctx, job); err != nil {
					log.Error().Err(err).Str("receipt_id", rec.ID).Msg("Failed to enqueue sweep job")
					continue
				}
				scheduled[rec.ID] = true
				log.Info().Str("receipt_id", rec.ID).Str("job_id", job.JobID).Msg("Sweep job enqueued")
			}
		}

		sweep()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop workers
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	// Close the queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}
