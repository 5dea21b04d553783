package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/gcsuploader"
	infraBQ "github.com/mafutapass/receipts/internal/infra/bigquery"
	"github.com/mafutapass/receipts/internal/jobs/inmemory"
	"github.com/mafutapass/receipts/internal/kra"
	"github.com/mafutapass/receipts/internal/logger"
	"github.com/mafutapass/receipts/internal/ocr"
	"github.com/mafutapass/receipts/internal/processor"
	"github.com/mafutapass/receipts/internal/qrcode"
	"github.com/mafutapass/receipts/internal/reports"
	"github.com/mafutapass/receipts/internal/stores"
	"github.com/mafutapass/receipts/internal/template"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "process":
		runProcess(log)
	case "decode":
		runDecode(log)
	case "inspect":
		runInspect(log)
	case "export":
		runExport(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Receipts CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  process   Run the full pipeline over a local receipt image")
	fmt.Println("  decode    Decode and parse a receipt's QR code offline")
	fmt.Println("  inspect   Inspect an archived receipt by ID")
	fmt.Println("  export    Print an archived receipt as plain text")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runProcess(log zerolog.Logger) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to the receipt image")
	bucket := fs.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for the image (or set GCS_BUCKET env)")
	userEmail := fs.String("user", "", "User email to record against the receipt")
	reportID := fs.String("report-id", "", "Expense report to attach the receipt to")
	model := fs.String("model", enhance.DefaultModelName, "Gemini model for categorization")
	skipAI := fs.Bool("skip-ai", false, "Skip AI categorization")
	fs.Parse(os.Args[2:])

	if *filePath == "" || *bucket == "" || *userEmail == "" {
		log.Fatal().Msg("Usage: cli process -file PATH -bucket NAME -user EMAIL")
	}

	image, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read image")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	receiptRepo, err := infraBQ.NewReceiptRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create receipt repository")
	}
	defer receiptRepo.Close()

	storeRepo, err := infraBQ.NewStoreRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create store repository")
	}
	defer storeRepo.Close()

	expenseRepo, err := infraBQ.NewExpenseRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create expense repository")
	}
	defer expenseRepo.Close()

	detector, err := ocr.NewVisionDetector(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create text detector")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(10, jobStore)
	defer jobQueue.Close()

	registry := template.DefaultRegistry()
	proc := processor.New(processor.DefaultConfig(), processor.Deps{
		Decoder:    qrcode.NewDecoder(),
		OCR:        ocr.NewAdapter(detector),
		Verifier:   kra.NewVerifier(),
		Recognizer: stores.NewRecognizer(storeRepo, registry),
		Enhancer:   enhance.NewEnhancer(enhance.NewGeminiModel(*model)),
		Registry:   registry,
		Receipts:   receiptRepo,
		Objects:    gcsuploader.NewGCSObjectStore(*bucket),
		Queue:      jobQueue,
		Reports:    reports.NewManager(expenseRepo),
	})

	go jobQueue.Start(ctx, proc.EnhanceHandler())

	res := proc.Process(ctx, image, processor.Options{
		UserEmail: *userEmail,
		UserID:    *userEmail,
		Filename:  filepath.Base(*filePath),
		ReportID:  *reportID,
		SkipAI:    *skipAI,
	})

	// Wait for the detached enhancement so the printed result is complete.
	if res.EnhanceJob != nil {
		log.Info().Str("job_id", res.EnhanceJob.JobID).Msg("Waiting for background enhancement")
		select {
		case <-res.EnhanceJob.Done():
		case <-ctx.Done():
		}
		if rec, err := receiptRepo.GetByID(ctx, res.ReceiptID); err == nil && rec != nil && rec.AIPayload != nil {
			res.Enhancement = rec.AIPayload
		}
	}

	printJSON(res)
}

func runDecode(log zerolog.Logger) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to the receipt image")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli decode -file PATH")
	}

	image, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read image")
	}

	ctx := logger.WithContext(context.Background(), log)

	payload, err := qrcode.NewDecoder().Decode(ctx, image)
	if err != nil {
		log.Fatal().Err(err).Msg("Decode failed")
	}
	if payload == nil {
		fmt.Println("No machine-readable code found.")
		return
	}

	fmt.Printf("Type:       %s\n", payload.Type)
	fmt.Printf("Raw text:   %s\n", payload.RawText)
	if payload.IsVerificationURL() {
		fmt.Println("Verifiable: yes (tax authority invoice checker)")
	}
	if len(payload.Fields) > 0 {
		fmt.Println("Fields:")
		printJSON(payload.Fields)
	}
}

func runInspect(log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	receiptID := fs.String("receipt-id", "", "Receipt ID to inspect")
	fs.Parse(os.Args[2:])

	if *receiptID == "" {
		log.Fatal().Msg("Error: --receipt-id is required")
	}

	ctx := logger.WithContext(context.Background(), log)

	repo, err := infraBQ.NewReceiptRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create receipt repository")
	}
	defer repo.Close()

	rec, err := repo.GetByID(ctx, *receiptID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get receipt")
	}
	if rec == nil {
		log.Fatal().Msg("Receipt not found")
	}

	fmt.Println("\n=== Receipt Details ===")
	fmt.Printf("ID:       %s\n", rec.ID)
	fmt.Printf("User:     %s\n", rec.UserEmail)
	fmt.Printf("Status:   %s\n", rec.Status)
	fmt.Printf("Image:    %s\n", rec.ImageURL)
	fmt.Printf("Captured: %s\n", rec.CapturedAt)
	if rec.StoreID != "" {
		fmt.Printf("Store:    %s\n", rec.StoreID)
	}
	if rec.AIPayload != nil {
		fmt.Printf("Category: %s (confidence %d)\n", rec.AIPayload.Category, rec.AIPayload.Confidence)
	}
	fmt.Println()
}

func runExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	receiptID := fs.String("receipt-id", "", "Receipt ID to export")
	fs.Parse(os.Args[2:])

	if *receiptID == "" {
		log.Fatal().Msg("Error: --receipt-id is required")
	}

	ctx := logger.WithContext(context.Background(), log)

	repo, err := infraBQ.NewReceiptRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create receipt repository")
	}
	defer repo.Close()

	rec, err := repo.GetByID(ctx, *receiptID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get receipt")
	}
	if rec == nil {
		log.Fatal().Msg("Receipt not found")
	}

	fmt.Print(archive.ExportText(rec))
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
