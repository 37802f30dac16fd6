// Package config loads the runtime configuration for the contract agent
// from environment variables, with optional .env support for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	// ProviderOpenAI selects any OpenAI-wire-compatible endpoint (Groq, OpenAI).
	ProviderOpenAI = "openai"
	// ProviderOllama selects a local Ollama server.
	ProviderOllama = "ollama"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider    string
	Model       string
	Temperature float32
	MaxTokens   int
}

type Config struct {
	// Document processing.
	ChunkSize    int
	ChunkOverlap int
	TopK         int

	Embeddings EmbeddingsConfig
	LLM        LLMConfig

	// Provider endpoints and credentials.
	APIKey     string
	APIBaseURL string
	OllamaHost string

	// Stores.
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string
	Collection  string

	DataDir    string
	ListenAddr string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),
		TopK:         getEnvInt("TOP_K_RESULTS", 4),
		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", ProviderOpenAI),
			Model:       getEnv("LLM_MODEL", "openai/gpt-oss-120b"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		},
		APIKey:      getEnv("GROQ_API_KEY", os.Getenv("OPENAI_API_KEY")),
		APIBaseURL:  getEnv("API_BASE_URL", defaultGroqBaseURL),
		OllamaHost:  getEnv("OLLAMA_HOST", "http://localhost:11434"),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/contract-agent?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),
		Collection:  getEnv("COLLECTION_NAME", "contract_documents"),
		DataDir:     getEnv("DATA_DIR", "./contracts"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
	}
}

// Validate checks that the configuration is usable before any services start.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, chunk size), got %d", c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.LLM.Provider == ProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("GROQ_API_KEY not set for the %s llm provider", c.LLM.Provider)
	}
	if c.Embeddings.Provider == ProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("GROQ_API_KEY not set for the %s embedding provider", c.Embeddings.Provider)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float32) float32 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return fallback
}
