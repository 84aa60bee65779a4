// Command userview serves the user directory's list and detail views, backed
// by the query controller and either the REST API or Firestore.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-userquery/pkg/cache"
	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/microservice"
	"github.com/illmade-knight/go-userquery/pkg/query"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
	"github.com/illmade-knight/go-userquery/pkg/users"
	"github.com/illmade-knight/go-userquery/pkg/userview"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := microservice.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	zerolog.SetGlobalLevel(cfg.Level())
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, closeClient, err := newSource(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create user source")
	}
	defer closeClient()

	// Controller invalidation reaches Redis through users.Fetcher.Invalidate.
	if cfg.RedisEnabled() {
		source, err = cache.NewRedisCache[querykey.Descriptor, json.RawMessage](ctx, &cfg.Redis, logger, source)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Redis cache")
		}
	}

	fetcher, err := users.NewFetcher(source, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create user fetcher")
	}

	controller, err := query.NewController(cfg.Query, fetcher.Register(fetch.NewRouter()), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create query controller")
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort)
	userview.NewHandler(controller, logger).Register(server.Router())
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
	logger.Info().Str("port", server.GetHTTPPort()).Str("source", cfg.Source).Bool("redis", cfg.RedisEnabled()).Msg("Userview service started.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed.")
	}
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Query controller shutdown failed.")
	}
	if err := fetcher.Close(); err != nil {
		logger.Error().Err(err).Msg("Closing user source failed.")
	}
}

// newSource builds the configured user source. The returned func closes any
// client the source does not own.
func newSource(ctx context.Context, cfg *microservice.Config, logger zerolog.Logger) (users.Source, func(), error) {
	switch cfg.Source {
	case microservice.SourceFirestore:
		var opts []option.ClientOption
		if cfg.Firestore.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
		}
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		source, err := users.NewFirestoreSource(&cfg.Firestore, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return source, func() { _ = client.Close() }, nil
	default:
		source, err := users.NewHTTPSource(&cfg.API, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		return source, func() {}, nil
	}
}
