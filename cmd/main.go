package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"legal-agent/handler"
	"legal-agent/internal/blobstore"
	"legal-agent/internal/integrations/gemini"
	"legal-agent/internal/integrations/openai"
	"legal-agent/internal/integrations/secrets"
	"legal-agent/internal/prompt"
	"legal-agent/internal/repository"
	"legal-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env file", "err", err)
		os.Exit(1)
	}

	// ---- Configuration (read only here) ----
	provider := strings.ToLower(envString("MODEL_PROVIDER", "openai"))
	baseURL := os.Getenv("MODEL_BASE_URL")
	modelName := os.Getenv("MODEL_NAME")
	temperature := envFloat("MODEL_TEMPERATURE", 0.2)
	maxTokens := envInt("MODEL_MAX_TOKENS", 1600)
	modelTimeout := time.Duration(envInt("MODEL_TIMEOUT_SECONDS", 30)) * time.Second
	apiKeyEnv := envString("API_KEY_ENV", "GROQ_API_KEY")
	apiKeyParam := os.Getenv("API_KEY_PARAM")
	stateTable := os.Getenv("STATE_TABLE")
	uploadBucket := os.Getenv("UPLOAD_BUCKET")
	maxPromptChars := envInt("MAX_PROMPT_CHARS", prompt.DefaultMaxChars)
	sessionTTL := time.Duration(envInt("SESSION_TTL_MINUTES", 60)) * time.Minute
	limits := usecase.Limits{
		MaxQuestionLength:    envInt("MAX_QUESTION_LENGTH", usecase.DefaultMaxQuestionLength),
		MaxConversationTurns: envInt("MAX_CONVERSATION_TURNS", usecase.DefaultMaxConversationTurns),
		MaxUploadBytes:       envInt("MAX_UPLOAD_BYTES", usecase.DefaultMaxUploadBytes),
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	keyOpts := []secrets.Option{secrets.WithEnvKey(os.Getenv(apiKeyEnv))}
	if apiKeyParam != "" {
		keyOpts = append(keyOpts, secrets.WithParameter(awsssm.NewFromConfig(cfg), apiKeyParam))
	}
	keys := secrets.New(keyOpts...)
	if _, err := keys.APIKey(ctx); err != nil {
		slog.Error("model API key is not available", "env", apiKeyEnv, "param", apiKeyParam, "err", err)
		os.Exit(1)
	}

	var model usecase.Completer
	switch provider {
	case "openai":
		opts := []openai.Option{
			openai.WithTemperature(temperature),
			openai.WithMaxTokens(maxTokens),
			openai.WithTimeout(modelTimeout),
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		if modelName != "" {
			opts = append(opts, openai.WithModel(modelName))
		}
		model, err = openai.NewClient(keys, opts...)
	case "gemini":
		opts := []gemini.Option{
			gemini.WithTemperature(temperature),
			gemini.WithMaxTokens(maxTokens),
			gemini.WithTimeout(modelTimeout),
		}
		if baseURL != "" {
			opts = append(opts, gemini.WithBaseURL(baseURL))
		}
		if modelName != "" {
			opts = append(opts, gemini.WithModel(modelName))
		}
		model, err = gemini.NewClient(keys, opts...)
	default:
		slog.Error("unknown model provider", "provider", provider)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("failed to create model client", "provider", provider, "err", err)
		os.Exit(1)
	}

	var sessions usecase.SessionStore
	if stateTable != "" {
		sessions, err = repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, sessionTTL)
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("STATE_TABLE is not set, sessions are kept in memory")
		sessions = repository.NewMemoryStore(sessionTTL)
	}

	var svcOpts []usecase.Option
	if uploadBucket != "" {
		blobs, err := blobstore.New(awss3.NewFromConfig(cfg), uploadBucket)
		if err != nil {
			slog.Error("failed to create upload store", "err", err)
			os.Exit(1)
		}
		// Uploads of sessions that idle out are removed by the bucket lifecycle rule.
		if err := blobs.EnsureExpiry(ctx, sessionTTL); err != nil {
			slog.Error("failed to configure upload expiry", "bucket", uploadBucket, "err", err)
			os.Exit(1)
		}
		svcOpts = append(svcOpts, usecase.WithBlobStore(blobs))
	}

	// ---- Handler ----
	svc, err := usecase.NewService(model, prompt.NewAssembler(maxPromptChars), sessions, limits, svcOpts...)
	if err != nil {
		slog.Error("failed to create service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("legal agent ready", "provider", provider, "persistent", stateTable != "", "uploads", uploadBucket != "")
	lambda.Start(h.Handle)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
