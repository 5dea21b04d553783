package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mafutapass/receipts/internal/api/handlers"
	"github.com/mafutapass/receipts/internal/api/middleware"
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
	// Parse command-line flags
	var (
		port   = flag.String("port", "8080", "HTTP server port")
		bucket = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket name for receipt images (or set GCS_BUCKET env)")
		model  = flag.String("model", enhance.DefaultModelName, "Gemini model for receipt categorization")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	if *bucket == "" {
		log.Fatal().Msg("No GCS bucket configured - receipt images have nowhere to go")
	}

	// Initialize repositories
	ctx := context.Background()

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

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	// Assemble the pipeline
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

	// Start the background enhancement consumer
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Msg("Starting enhancement worker")
		if err := jobQueue.Start(workerCtx, proc.EnhanceHandler()); err != nil {
			log.Error().Err(err).Msg("Enhancement worker stopped with error")
		}
	}()

	// Initialize handlers
	receiptsHandler := handlers.NewReceiptsHandler(proc, receiptRepo, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	// Receipts endpoints
	mux.HandleFunc("/api/receipts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			receiptsHandler.ProcessReceipt(w, r)
		case http.MethodGet:
			receiptsHandler.ListReceipts(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/receipts/")
		if rest == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Receipt ID is required")
			return
		}
		if receiptID, ok := strings.CutSuffix(rest, "/store"); ok {
			if r.Method != http.MethodPut {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			receiptsHandler.LinkStore(w, r, receiptID)
			return
		}
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if receiptID, ok := strings.CutSuffix(rest, "/export"); ok {
			receiptsHandler.ExportReceipt(w, r, receiptID)
			return
		}
		receiptsHandler.GetReceipt(w, r, rest)
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Identity(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Cancel worker context
	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	// Close job queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
