package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/internal/util"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/lkgb/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/lkgb/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/enrich"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var ErrInvalid = errors.New("config: invalid value")

const DefaultOntologyPath = "resources/ontology/logs.yaml"

type AI struct {
	Adapter          string
	ChatURL          string
	ChatKey          string
	ExtractModel     string
	EmbedURL         string
	EmbedKey         string
	EmbedModel       string
	EmbedDimensions  int
	ParallelRequests int
	RequestTimeout   time.Duration
}

type Config struct {
	OntologyPath string
	AI           AI

	Temperature         float64
	SelfReflectionSteps int
	MaxToolRounds       int
	OracleTimeout       time.Duration
	LookupTimeout       time.Duration
	FewShotExamples     int
	// ExamplesPath points to curated examples seeded into the store.
	ExamplesPath string

	IPAPIURL string
	IPAPIKey string

	ExperimentID string
	DatabaseURL  string
	Port         string
	AuthURL      string
	MasterAPIKey string
	// QueueEnabled is set when RABBITMQ_HOST is configured.
	QueueEnabled bool

	Debug    bool
	JSONLogs bool
}

// FromEnv reads the configuration from the environment. Call
// util.LoadEnv first to pick up a .env file.
func FromEnv() Config {
	defaults := extract.DefaultConfig()
	return Config{
		OntologyPath: util.GetEnvString("ONTOLOGY_PATH", DefaultOntologyPath),
		AI: AI{
			Adapter:          util.GetEnvString("AI_ADAPTER", "openai"),
			ChatURL:          util.GetEnv("AI_CHAT_URL"),
			ChatKey:          util.GetEnv("AI_CHAT_KEY"),
			ExtractModel:     util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbedURL:         util.GetEnv("AI_EMBED_URL"),
			EmbedKey:         util.GetEnv("AI_EMBED_KEY"),
			EmbedModel:       util.GetEnv("AI_EMBED_MODEL"),
			EmbedDimensions:  util.GetEnvInt("AI_EMBED_DIM", 1024),
			ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 4),
			RequestTimeout:   util.GetEnvDuration("AI_TIMEOUT", 0),
		},

		Temperature:         util.GetEnvNumeric("PARSER_TEMPERATURE", 0),
		SelfReflectionSteps: util.GetEnvInt("SELF_REFLECTION_STEPS", defaults.MaxAttempts-1),
		MaxToolRounds:       util.GetEnvInt("MAX_TOOL_ROUNDS", defaults.MaxToolRounds),
		OracleTimeout:       util.GetEnvDuration("ORACLE_TIMEOUT", defaults.OracleTimeout),
		LookupTimeout:       util.GetEnvDuration("LOOKUP_TIMEOUT", defaults.LookupTimeout),
		FewShotExamples:     util.GetEnvInt("FEW_SHOT_EXAMPLES", defaults.Examples),
		ExamplesPath:        util.GetEnv("EXAMPLES_PATH"),

		IPAPIURL: util.GetEnvString("IPAPI_URL", enrich.DefaultIPAPIURL),
		IPAPIKey: util.GetEnv("IPAPI_KEY"),

		ExperimentID: util.GetEnv("EXPERIMENT_ID"),
		DatabaseURL:  util.GetEnv("DATABASE_URL"),
		Port:         util.GetEnvString("PORT", "8080"),
		AuthURL:      util.GetEnv("AUTH_URL"),
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
		QueueEnabled: util.GetEnv("RABBITMQ_HOST") != "",

		Debug:    util.GetEnvString("LOG_LEVEL", "info") == "debug" || util.GetEnvBool("DEBUG", false),
		JSONLogs: util.GetEnvString("LOG_FORMAT", "text") == "json",
	}
}

func (c Config) Validate() error {
	switch {
	case c.OntologyPath == "":
		return fmt.Errorf("%w: ONTOLOGY_PATH is empty", ErrInvalid)
	case c.AI.Adapter != "openai" && c.AI.Adapter != "ollama":
		return fmt.Errorf("%w: AI_ADAPTER must be openai or ollama, got %q", ErrInvalid, c.AI.Adapter)
	case c.Temperature < 0 || c.Temperature > 1:
		return fmt.Errorf("%w: PARSER_TEMPERATURE must be within [0, 1]", ErrInvalid)
	case c.SelfReflectionSteps < 0:
		return fmt.Errorf("%w: SELF_REFLECTION_STEPS must not be negative", ErrInvalid)
	case c.MaxToolRounds < 1:
		return fmt.Errorf("%w: MAX_TOOL_ROUNDS must be at least 1", ErrInvalid)
	case c.FewShotExamples < 0:
		return fmt.Errorf("%w: FEW_SHOT_EXAMPLES must not be negative", ErrInvalid)
	case c.AI.ParallelRequests < 1:
		return fmt.Errorf("%w: AI_PARALLEL_REQ must be at least 1", ErrInvalid)
	}
	return c.Engine().Validate()
}

// Engine derives the extraction engine configuration. Every
// self-reflection step buys one more attempt.
func (c Config) Engine() extract.Config {
	return extract.Config{
		MaxAttempts:   c.SelfReflectionSteps + 1,
		MaxToolRounds: c.MaxToolRounds,
		OracleTimeout: c.OracleTimeout,
		LookupTimeout: c.LookupTimeout,
		Model:         c.AI.ExtractModel,
		Temperature:   c.Temperature,
		Examples:      c.FewShotExamples,
	}
}

func (c Config) NewAIClient() (ai.GraphAIClient, error) {
	switch c.AI.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:      c.AI.EmbedModel,
			ExtractionModel:     c.AI.ExtractModel,
			EmbeddingDimensions: c.AI.EmbedDimensions,

			BaseURL: c.AI.ChatURL,
			ApiKey:  c.AI.ChatKey,

			MaxConcurrentRequests: int64(c.AI.ParallelRequests),
			RequestTimeout:        c.AI.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:      c.AI.EmbedModel,
			ExtractionModel:     c.AI.ExtractModel,
			EmbeddingDimensions: c.AI.EmbedDimensions,

			EmbeddingURL: c.AI.EmbedURL,
			EmbeddingKey: c.AI.EmbedKey,
			ChatURL:      c.AI.ChatURL,
			ChatKey:      c.AI.ChatKey,

			MaxConcurrentRequests: int64(c.AI.ParallelRequests),
			RequestTimeout:        c.AI.RequestTimeout,
		}), nil
	}
}

func (c Config) NewLookup() enrich.Lookup {
	return enrich.NewIPAPIClient(enrich.NewIPAPIClientParams{
		BaseURL: c.IPAPIURL,
		APIKey:  c.IPAPIKey,
		Timeout: c.LookupTimeout,
	})
}

// LoadOntology reads the ontology from a local path or an s3:// location.
func (c Config) LoadOntology(ctx context.Context, loc *storage.Location) (*ontology.Schema, error) {
	data, err := loc.Read(ctx, c.OntologyPath)
	if err != nil {
		return nil, fmt.Errorf("read ontology %s: %w", c.OntologyPath, err)
	}
	return ontology.Parse(data)
}

// LoadExamples reads curated examples from a local path or an s3://
// location. Every example graph must be valid under schema.
func LoadExamples(ctx context.Context, loc *storage.Location, schema *ontology.Schema, path string) ([]extract.Example, error) {
	data, err := loc.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read examples %s: %w", path, err)
	}
	return extract.ParseExamples(schema, data)
}

// ExampleSeeder stores curated examples.
type ExampleSeeder interface {
	SeedExamples(ctx context.Context, examples []extract.Example) (int, error)
}

// SeedExamples loads the examples at ExamplesPath into seeder and reports
// how many were new. It does nothing when ExamplesPath is empty.
func (c Config) SeedExamples(ctx context.Context, loc *storage.Location, schema *ontology.Schema, seeder ExampleSeeder) (int, error) {
	if c.ExamplesPath == "" {
		return 0, nil
	}
	examples, err := LoadExamples(ctx, loc, schema, c.ExamplesPath)
	if err != nil {
		return 0, err
	}
	return seeder.SeedExamples(ctx, examples)
}

// OpenDatabase connects a pool whose connections know the pgvector types.
func (c Config) OpenDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is empty", ErrInvalid)
	}
	poolCfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
