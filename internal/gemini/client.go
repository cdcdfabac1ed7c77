// Package gemini adapts the Google generative AI SDK to the three remote
// operations the pipeline needs: document to script, prompt to image and
// image or video to video.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/scivid/scivid/internal/config"
	"github.com/scivid/scivid/internal/logging"
)

const (
	DefaultFilePollInterval = 2 * time.Second
	DefaultFilePollAttempts = 30
)

// Config holds the client's configuration.
type Config struct {
	APIKey            string
	ScriptModel       string
	ImageModel        string
	VideoModel        string
	FilePollInterval  time.Duration // delay between upload state checks
	FilePollAttempts  int           // checks before an upload is abandoned
	VideoPollInterval time.Duration // delay between video operation checks
	Logger            *slog.Logger
}

// ConfigFrom builds a client configuration from application config.
func ConfigFrom(cfg *config.EnvConfig, logger *slog.Logger) Config {
	return Config{
		APIKey:            cfg.APIKey(),
		ScriptModel:       cfg.ScriptModel(),
		ImageModel:        cfg.ImageModel(),
		VideoModel:        cfg.VideoModel(),
		FilePollInterval:  DefaultFilePollInterval,
		FilePollAttempts:  DefaultFilePollAttempts,
		VideoPollInterval: cfg.VideoPollInterval(),
		Logger:            logger,
	}
}

// Client is the production implementation of the stage model interfaces.
type Client struct {
	cfg    Config
	client *genai.Client
	logger *slog.Logger
}

// New creates a client for the Gemini API backend. An empty API key fails
// with config.ErrMissingAPIKey before any network call.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, config.ErrMissingAPIKey
	}
	if cfg.FilePollInterval <= 0 {
		cfg.FilePollInterval = DefaultFilePollInterval
	}
	if cfg.FilePollAttempts <= 0 {
		cfg.FilePollAttempts = DefaultFilePollAttempts
	}
	if cfg.VideoPollInterval <= 0 {
		cfg.VideoPollInterval = config.DefaultVideoPollInterval
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "gemini")
	logger.Info("gemini client initialised",
		"api_key", logging.SanitizeToken(cfg.APIKey),
		"script_model", cfg.ScriptModel,
		"image_model", cfg.ImageModel,
		"video_model", cfg.VideoModel,
	)

	return &Client{cfg: cfg, client: client, logger: logger}, nil
}
