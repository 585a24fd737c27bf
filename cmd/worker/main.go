package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"annotation-backend/cmd"
	"annotation-backend/internal/config"
	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/internal/messaging"
	"annotation-backend/internal/worker"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[config.WorkerConfig]()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	emitter := events.NewEmitter(events.NewLogSink(slog.New(slog.NewJSONHandler(os.Stdout, nil))))
	processor := worker.NewTaskProcessor(db, receiver, emitter)

	done := make(chan struct{})
	go func() {
		processor.Start()
		close(done)
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for the current task to finish...")
	processor.Stop()
	<-done

	log.Println("Worker process stopped.")
}
