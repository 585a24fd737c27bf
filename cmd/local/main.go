package main

import (
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"annotation-backend/cmd"
	"annotation-backend/internal/api"
	"annotation-backend/internal/config"
	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/internal/messaging"
	"annotation-backend/internal/worker"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "annotation.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=1"), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// sqlite allows a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Parse[config.LocalConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	output := io.MultiWriter(f, os.Stderr)
	log.SetOutput(output)

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	logSink := events.NewLogSink(slog.New(slog.NewJSONHandler(output, nil)))

	queue := messaging.NewInMemoryQueue()
	processor := worker.NewTaskProcessor(db, queue, events.NewEmitter(logSink))

	emitter := events.NewEmitter(logSink, events.NewQueueSink(queue))
	service := api.NewBackendService(db, emitter, nil, nil, cfg.ServerVersion)

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: cmd.NewRouter(service, cfg.CorsAllowedOrigins),
	}

	slog.Info("starting worker")
	go processor.Start()

	cmd.Serve(server, func() {
		slog.Info("shutting down worker")
		processor.Stop()
	})
}
