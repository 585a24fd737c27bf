package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"annotation-backend/cmd"
	"annotation-backend/internal/api"
	"annotation-backend/internal/config"
	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/internal/messaging"
	"annotation-backend/internal/worker"

	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[config.APIConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	logSink := events.NewLogSink(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	sinks := []events.Sink{logSink}
	workerSinks := []events.Sink{logSink}

	var stream *events.RedisSink
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		stream = events.NewRedisSink(rdb, cfg.Channel())
		sinks = append(sinks, stream)
		workerSinks = append(workerSinks, stream)
	}

	var publisher messaging.Publisher
	var processor *worker.TaskProcessor
	if cfg.RabbitMQURL != "" {
		rabbit, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		publisher = rabbit
	} else {
		log.Println("RABBITMQ_URL not set, storing events with an in-process worker")
		queue := messaging.NewInMemoryQueue()
		publisher = queue
		processor = worker.NewTaskProcessor(db, queue, events.NewEmitter(workerSinks...))
		go processor.Start()
	}
	defer publisher.Close()

	sinks = append(sinks, events.NewQueueSink(publisher))
	emitter := events.NewEmitter(sinks...)

	service := api.NewBackendService(db, emitter, nil, stream, cfg.ServerVersion)
	router := cmd.NewRouter(service, cfg.CorsAllowedOrigins)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	cmd.Serve(server, func() {
		if processor != nil {
			processor.Stop()
		}
	})
}
