// Package main (in api-subfolder) launches the background-removal API
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ferrywell/cutout/internal/auth"
	"github.com/ferrywell/cutout/internal/kafka"
	"github.com/ferrywell/cutout/internal/mwlogger"
	"github.com/ferrywell/cutout/internal/repository"
	"github.com/ferrywell/cutout/internal/segment"
	"github.com/ferrywell/cutout/internal/service"
	"github.com/ferrywell/cutout/internal/storage"
	"github.com/ferrywell/cutout/internal/transport"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	appConfig := config.New()
	appConfig.EnableEnv("")
	if err := appConfig.LoadEnvFiles("./.env"); err != nil {
		log.Fatalf("Failed to load envs: %s\nExiting app...", err)
	}

	zlog.InitConsole()
	if err := zlog.SetLevel("info"); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn := repository.ConnectWithRetries(appConfig, 5, 10*time.Second)
	repository.MigrateWithRetries(dbConn.Master, "./migrations", 10, 15*time.Second)
	repo := repository.NewPostgresAccountRepo(dbConn)

	arch := storage.NewResultArchive(appConfig, 10*time.Second)

	broker := appConfig.GetString("KAFKA_BROKER")
	kafka.WaitKafkaReady(broker)
	topic := appConfig.GetString("KAFKA_TOPIC")
	kafka.InitKafkaTopics(ctx, broker, 10*time.Second, topic)
	pub := wbfkafka.NewProducer([]string{broker}, topic)

	// the model handle is built exactly once, readiness-checked, and
	// shared by every request - no lazy init
	httpModel, err := segment.NewHTTPModel(ctx,
		appConfig.GetString("MODEL_URL"),
		appConfig.GetString("MODEL_ID"),
		time.Duration(configInt(appConfig, "MODEL_TIMEOUT_SEC", 60))*time.Second,
	)
	if err != nil {
		log.Fatalf("Failed to init segmentation model handle: %v", err)
	}
	adapter := segment.NewAdapter(httpModel, configInt(appConfig, "MODEL_INPUT_SIZE", 1024))

	resolver := auth.NewResolver(repo, auth.NewHTTPTokenValidator(appConfig.GetString("AUTH_URL"), 10*time.Second))

	var svc CutoutAPIService = service.NewCutoutService(
		resolver,
		repo,
		adapter,
		pub,
		arch,
		int64(configInt(appConfig, "MAX_UPLOAD_BYTES", 10<<20)),
	)

	requestBudget := time.Duration(configInt(appConfig, "REQUEST_TIMEOUT_SEC", 60)) * time.Second
	handlers := transport.NewCutoutHandler(svc, requestBudget)

	mode := appConfig.GetString("GIN_MODE")
	engine := ginext.New(mode)

	engine.GET("/ping", handlers.SimplePinger)
	engine.POST("/api/v1/remove", handlers.Remove)
	engine.GET("/api/v1/results/:id", handlers.LoadResult)

	srv := &http.Server{
		Addr:    ":" + appConfig.GetString("APP_PORT"),
		Handler: mwlogger.NewMWLogger(engine),
	}

	go func() {
		log.Printf("Server running on http://localhost%s\n", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				log.Println("Server gracefully stopping...")
			default:
				log.Printf("Server stopped: %v", err)
				stop()
			}
		}
	}()

	<-ctx.Done()

	shutdown(pub, dbConn)
	log.Println("Exiting app...")
}

// configInt - env vars come in as strings; fall back to the default on
// anything unparsable
func configInt(appConfig *config.Config, key string, def int) int {
	raw := appConfig.GetString(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Bad value %q for %s, using default %d", raw, key, def)
		return def
	}
	return val
}

func shutdown(pub *wbfkafka.Producer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	if err := pub.Close(); err != nil {
		log.Println("Failed to close Kafka-producer:", err)
	}
	log.Println("Kafka-producer connection closed.")

	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
