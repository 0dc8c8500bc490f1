package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xpert-ai/agentgraph/runtime/checkpoint"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint/inmem"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint/redisstore"
	"github.com/xpert-ai/agentgraph/runtime/compiler"
	"github.com/xpert-ai/agentgraph/runtime/config"
	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/ledger"
	ledgerinmem "github.com/xpert-ai/agentgraph/runtime/ledger/inmem"
	"github.com/xpert-ai/agentgraph/runtime/ledger/mongostore"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/model/anthropic"
	"github.com/xpert-ai/agentgraph/runtime/model/openai"
	"github.com/xpert-ai/agentgraph/runtime/stream"
	"github.com/xpert-ai/agentgraph/runtime/stream/pulse"
	"github.com/xpert-ai/agentgraph/runtime/telemetry"
	transporthttp "github.com/xpert-ai/agentgraph/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := telemetry.NewClueLogger()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modelClient, err := newModelClient()
	if err != nil {
		log.Fatalf("model client: %v", err)
	}
	pipeline := buildPipeline()

	srv := transporthttp.NewServer(transporthttp.Deps{
		Checkpointer:     newCheckpointer(),
		Interrupts:       interrupt.NewManager(),
		ModelClient:      modelClient,
		Pipeline:         pipeline,
		Registry:         compiler.Registry{Middleware: pipeline},
		Bus:              newBus(),
		Logger:           logger,
		Auth:             newAuth(),
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		Ledger:           newLedger(),
	})

	addr := ":" + cfg.Port
	logger.Info(ctx, "server starting", "addr", addr, "logLevel", string(cfg.LogLevel))
	if err := srv.Start(ctx, addr); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info(ctx, "server stopped")
}

// newModelClient builds the model.Client the server dispatches every Run
// through. ANTHROPIC_API_KEY selects the Anthropic adapter; otherwise
// OPENAI_API_KEY selects OpenAI. Bedrock is available as runtime/model/bedrock
// but needs an AWS credential chain rather than a single key, so it is wired
// by deployments that embed this binary rather than by this env-var switch
// (see DESIGN.md).
func newModelClient() (model.Client, error) {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		defaultModel := os.Getenv("ANTHROPIC_MODEL")
		if defaultModel == "" {
			defaultModel = "claude-sonnet-4-5"
		}
		return anthropic.NewFromAPIKey(apiKey, defaultModel)
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY or ANTHROPIC_API_KEY is required to run the server")
	}
	defaultModel := os.Getenv("OPENAI_MODEL")
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return openai.NewFromAPIKey(apiKey, defaultModel)
}

// newBus builds the event Bus every Run publishes through. PULSE_REDIS_URL
// additionally registers a Pulse-backed sink so events fan out to Redis
// streams for out-of-process subscribers, alongside the in-process SSE/bus
// sinks every Run already gets.
func newBus() *stream.Bus {
	bus := stream.NewBus()
	redisURL := os.Getenv("PULSE_REDIS_URL")
	if redisURL == "" {
		return bus
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("PULSE_REDIS_URL: %v", err)
	}
	client, err := pulse.NewRedisClient(pulse.RedisClientOptions{Redis: redis.NewClient(opts)})
	if err != nil {
		log.Fatalf("pulse: %v", err)
	}
	sink, err := pulse.New(pulse.Options{Client: client})
	if err != nil {
		log.Fatalf("pulse: %v", err)
	}
	if _, err := bus.Register(sink); err != nil {
		log.Fatalf("pulse: %v", err)
	}
	return bus
}

// newCheckpointer wires a Redis-backed Checkpointer when REDIS_URL is
// configured, matching the teacher's conditional-enable-by-env-var pattern
// for optional collaborators; otherwise falls back to the in-memory store
// suitable for local development.
func newCheckpointer() checkpoint.Checkpointer {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return inmem.New()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("REDIS_URL: %v", err)
	}
	return redisstore.New(redis.NewClient(opts), os.Getenv("REDIS_PREFIX"))
}

// newLedger wires a Mongo-backed Agent Execution Ledger when MONGO_URI is
// configured, matching the checkpointer's conditional-enable-by-env-var
// pattern; otherwise falls back to an in-memory store suitable for local
// development.
func newLedger() ledger.Store {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return ledgerinmem.New()
	}
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		log.Fatalf("MONGO_URI: %v", err)
	}
	database := os.Getenv("MONGO_DATABASE")
	if database == "" {
		database = "agentgraph"
	}
	store, err := mongostore.New(mongostore.Options{Client: client, Database: database})
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	return store
}

// newAuth wires the API-key/client-secret SecretIssuer when API_KEYS lists
// at least one accepted key; an empty list disables authentication, useful
// for local development against the transport directly.
func newAuth() transporthttp.SecretIssuer {
	raw := os.Getenv("API_KEYS")
	if raw == "" {
		return nil
	}
	var keys []string
	for _, tok := range strings.Split(raw, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			keys = append(keys, tok)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return transporthttp.NewSecretIssuer(keys...)
}

// buildPipeline assembles the Middleware Pipeline every agent node shares.
// No middleware is registered by default; deployments compose their own via
// runtime/middleware's concrete implementations.
func buildPipeline() *middleware.Pipeline {
	return middleware.New()
}
