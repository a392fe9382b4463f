package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-flash/internal/api"
	"exam-flash/internal/chunker"
	"exam-flash/internal/config"
	"exam-flash/internal/db"
	"exam-flash/internal/flashcards"
	"exam-flash/internal/jobs"
	"exam-flash/internal/services"
	"exam-flash/internal/structure"
)

func main() {
	cfg, err := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	c, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, log)
	if err != nil {
		log.Error("invalid chunk configuration", "chunk_size", cfg.ChunkSize, "chunk_overlap", cfg.ChunkOverlap, "error", err)
		os.Exit(1)
	}
	backend, err := services.NewBackend(cfg)
	if err != nil {
		log.Error("invalid generation backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.Error("open database", "path", cfg.Database, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	flashcardService := services.NewFlashcardService(conn)
	subjectService := services.NewSubjectService(conn)
	documentService := services.NewDocumentService(conn, cfg.UploadDir, services.UploadPolicy{
		Extensions: cfg.AllowedExtensions,
		MaxBytes:   cfg.MaxUploadBytes,
	})
	ingestionService := services.NewIngestionService(
		services.NewFileTextSource(),
		structure.NewDetector(log, structure.Options{MaxQuestionNumber: cfg.MaxQuestionNumber}),
		c,
		flashcards.NewGenerator(c, backend, log),
		documentService,
		flashcardService,
		subjectService,
		log,
	)

	queue := jobs.New(jobs.Options{
		Workers:    cfg.WorkerCount,
		QueueSize:  cfg.QueueSize,
		MaxRetries: cfg.JobMaxRetries,
		Timeout:    cfg.JobTimeout,
		TTL:        time.Hour,
	}, log)
	queue.Start()

	server := api.NewServer(cfg, flashcardService, subjectService, documentService, ingestionService, queue, log)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		if err := queue.Close(shutdownCtx); err != nil {
			log.Warn("job queue shutdown", "error", err)
		}
	}()

	log.Info("starting exam-flash", "port", cfg.Port, "backend", backend.Name(),
		"chunk_size", cfg.ChunkSize, "chunk_overlap", cfg.ChunkOverlap, "workers", cfg.WorkerCount)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
}
