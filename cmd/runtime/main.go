package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/chainscribe/chainscribe/apiframework"
	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/chainstore"
	"github.com/chainscribe/chainscribe/internal/execbackend"
	libbus "github.com/chainscribe/chainscribe/libbus"
	libdb "github.com/chainscribe/chainscribe/libdbexec"
	"github.com/chainscribe/chainscribe/libkvstore"
	"github.com/chainscribe/chainscribe/libroutine"
	"github.com/chainscribe/chainscribe/libtracker"
	"github.com/chainscribe/chainscribe/serverapi"
	"github.com/chainscribe/chainscribe/templatestore"
	"github.com/google/uuid"
)

var nodeInstanceID = "NODE-Instance-UNSET-dev"

func initDatabase(ctx context.Context, cfg *serverapi.Config) (libdb.DBManager, error) {
	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	var dbInstance libdb.DBManager
	err := libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		var err error
		dbInstance, err = libdb.NewPostgresDBManager(ctx, dbURL, "")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return dbInstance, nil
}

func initPubSub(ctx context.Context, cfg *serverapi.Config) (libbus.Messenger, error) {
	if cfg.NATSURL == "" {
		return libbus.NewInMem(), nil
	}
	return libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      cfg.NATSURL,
		NATSUser:     cfg.NATSUser,
		NATSPassword: cfg.NATSPassword,
	})
}

func initKV(cfg *serverapi.Config) (libkvstore.KVManager, error) {
	if cfg.KVAddr == "" {
		return libkvstore.NewInMemManager(), nil
	}
	return libkvstore.NewManager(libkvstore.Config{
		KVAddr:     cfg.KVAddr,
		KVPassword: cfg.KVPassword,
	}, 5*time.Second)
}

func initBackend(ctx context.Context, cfg *serverapi.Config, kvManager libkvstore.KVManager, catalog *chainengine.Catalog, tracker libtracker.ActivityTracker) (chainengine.ExecutionBackend, error) {
	switch cfg.BackendKind {
	case "", "http":
		token := ""
		if cfg.BackendTokenSecret != "" {
			creds, err := execbackend.NewCredentialStore(kvManager, []byte(cfg.BackendTokenSecret))
			if err != nil {
				return nil, err
			}
			token, err = creds.Load(ctx, "default")
			if err != nil {
				return nil, err
			}
		}
		return execbackend.NewHTTPBackend(cfg.BackendURL, token, nil, tracker), nil
	case "ollama":
		return execbackend.NewOllamaBackend(cfg.BackendURL, cfg.DefaultModel, nil, catalog, tracker)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.BackendKind)
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	nodeInstanceID = uuid.NewString()[0:8]
	config := &serverapi.Config{}
	if err := serverapi.LoadConfigFile(*configPath, config); err != nil {
		log.Fatalf("%s: failed to load config file: %v", nodeInstanceID, err)
	}
	if err := serverapi.LoadConfig(config); err != nil {
		log.Fatalf("%s: failed to load configuration: %v", nodeInstanceID, err)
	}

	ctx := context.TODO()
	cleanups := []func() error{}
	defer func() {
		for _, cleanup := range cleanups {
			if err := cleanup(); err != nil {
				log.Printf("%s cleanup failed: %v", nodeInstanceID, err)
			}
		}
	}()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing database failed: %v", nodeInstanceID, err)
	}
	defer dbInstance.Close()

	if err := chainstore.InitSchema(ctx, dbInstance.WithoutTransaction()); err != nil {
		log.Fatalf("%s initializing chain store schema failed: %v", nodeInstanceID, err)
	}
	if err := templatestore.InitSchema(ctx, dbInstance.WithoutTransaction()); err != nil {
		log.Fatalf("%s initializing template store schema failed: %v", nodeInstanceID, err)
	}

	ps, err := initPubSub(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing PubSub failed: %v", nodeInstanceID, err)
	}

	kvManager, err := initKV(config)
	if err != nil {
		log.Fatalf("%s initializing KV store failed: %v", nodeInstanceID, err)
	}
	defer kvManager.Close()

	// One catalog serves both the backend and the API services.
	catalog := chainengine.NewCatalog()
	tracker := libtracker.NewLogActivityTracker(nil)
	backend, err := initBackend(ctx, config, kvManager, catalog, tracker)
	if err != nil {
		log.Fatalf("%s initializing execution backend failed: %v", nodeInstanceID, err)
	}

	internalMux := http.NewServeMux()
	cleanup, err := serverapi.New(ctx, internalMux, nodeInstanceID, config, dbInstance, ps, kvManager, backend, catalog)
	cleanups = append(cleanups, cleanup)
	if err != nil {
		log.Fatalf("%s initializing API handler failed: %v", nodeInstanceID, err)
	}

	var apiHandler http.Handler = internalMux
	apiHandler = apiframework.RequestIDMiddleware(apiHandler)
	apiHandler = apiframework.TracingMiddleware(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	port := config.Port
	if port == "" {
		port = "8080"
	}
	log.Printf("%s starting server on :%s", nodeInstanceID, port)
	if err := http.ListenAndServe(config.Addr+":"+port, mux); err != nil {
		log.Fatalf("%s server failed: %v", nodeInstanceID, err)
	}
}
