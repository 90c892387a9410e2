// Command blog runs a small in-memory blog API demonstrating the library
// end to end: batch-loaded authors and comments, a comment-added
// subscription consumed in process, and the HTTP handler mounted behind a
// chi router with CORS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/graphbind/graphbind/batchload"
	"github.com/graphbind/graphbind/eventbus"
	"github.com/graphbind/graphbind/events"
	"github.com/graphbind/graphbind/execution"
	"github.com/graphbind/graphbind/gqlctx"
	"github.com/graphbind/graphbind/graphqlhttp"
	"github.com/graphbind/graphbind/otelgql"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	otelEndpoint := ""
	otelService := "blog"
	corsOrigin := "*"

	fs := flag.NewFlagSet("blog", flag.ContinueOnError)
	fs.StringVar(&addr, "addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "timeout", timeout, "Per-request timeout")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.StringVar(&corsOrigin, "cors.origin", corsOrigin, "Allowed CORS origin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eventbus.Use(eventbus.New())
	shutdown, err := otelgql.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	// Log batch dispatches so the N+1 collapse is visible in the output.
	eventbus.Subscribe(func(ctx context.Context, e events.BatchDispatch) {
		logger.Info("batch dispatch",
			zap.String("loader", e.Loader),
			zap.Int("keys", e.Keys),
			zap.Int("calls", e.Calls),
			zap.Duration("duration", e.Duration))
	})

	st := seedStore()
	br := newBroker()

	reg := batchload.NewRegistry(batchload.WithLogger(logger))
	batchload.ForTypePair[int64, *author](reg).
		WithOptions(func(o *batchload.Options) { o.MaxBatchSize = 100 }).
		RegisterMappedBatchLoader(st.authorsByID)
	batchload.ForName[int64, []*comment](reg, "PostComments").
		RegisterBatchLoader(st.commentsByPost)

	src, err := execution.NewSource(buildSchema(st, br),
		execution.WithRegistry(reg),
		execution.WithAccessor(gqlctx.LocaleAccessor{}),
		execution.WithAccessor(otelgql.TraceAccessor{}),
		execution.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build source: %w", err)
	}
	svc := execution.NewService(src)

	hopts := []graphqlhttp.Option{
		graphqlhttp.WithTimeout(timeout),
		graphqlhttp.WithCarrierHeaders("Authorization"),
		graphqlhttp.WithLogger(logger),
	}
	if pretty {
		hopts = append(hopts, graphqlhttp.WithPretty())
	}
	h := graphqlhttp.New(svc, hopts...)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{corsOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Handle("/graphql", h)

	go watchComments(context.Background(), svc, logger)

	logger.Info("blog server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, r)
}

// watchComments tails the comment-added stream in process and logs each
// event. It exercises the subscription pipeline without needing a
// streaming transport.
func watchComments(ctx context.Context, svc *execution.Service, logger *zap.Logger) {
	stream, err := svc.Subscribe(ctx, execution.Request{
		Query: `subscription { commentAdded { id postId body } }`,
	})
	if err != nil {
		logger.Warn("comment watcher failed to start", zap.Error(err))
		return
	}
	for resp := range stream {
		if len(resp.Errors) > 0 {
			logger.Warn("comment watcher stream error", zap.String("message", resp.Errors[0].Message))
			continue
		}
		logger.Info("comment added", zap.Any("data", resp.Data))
	}
}
