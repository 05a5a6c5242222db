package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/chunker"
	"github.com/dvloznov/statement-analyzer/internal/llm"
)

// EngineConfig wires the shared collaborators of every invocation.
type EngineConfig struct {
	// Factory builds a model client from a caller's credential. Required.
	Factory llm.Factory
	// Tokenizer bounds chunks by encoded length. Required.
	Tokenizer   chunker.Tokenizer
	ChunkTokens int
	// Gate is shared by every client the engine builds, so all callers
	// together stay within the upstream rate limit.
	Gate llm.Gate
	// Pause is waited on between consecutive chunk calls of one period.
	Pause  llm.Gate
	Budget time.Duration
	// Observe receives the outcome of every model call.
	Observe  llm.Observer
	Recorder RunRecorder
	// DefaultAPIKey is used when a request carries no credential.
	DefaultAPIKey string
	Logger        zerolog.Logger
}

// Engine builds per-credential processors and document services.
type Engine struct {
	cfg EngineConfig
}

// NewEngine validates cfg.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Factory == nil {
		return nil, errors.New("NewEngine: model client factory is required")
	}
	if cfg.Tokenizer == nil {
		return nil, errors.New("NewEngine: tokenizer is required")
	}
	return &Engine{cfg: cfg}, nil
}

// APIKey returns apiKey, or the configured default when apiKey is blank.
// A missing credential is an input error.
func (e *Engine) APIKey(apiKey string) (string, error) {
	if key := strings.TrimSpace(apiKey); key != "" {
		return key, nil
	}
	if e.cfg.DefaultAPIKey != "" {
		return e.cfg.DefaultAPIKey, nil
	}
	return "", fmt.Errorf("%w: API key is missing", ErrInput)
}

// Client returns the throttled, instrumented model client for apiKey.
func (e *Engine) Client(ctx context.Context, apiKey string) (llm.Client, error) {
	key, err := e.APIKey(apiKey)
	if err != nil {
		return nil, err
	}
	client, err := e.cfg.Factory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("Engine.Client: %w", err)
	}
	return llm.NewInstrumented(llm.NewThrottled(client, e.cfg.Gate), e.cfg.Observe), nil
}

// Processor returns a pipeline processor bound to apiKey.
func (e *Engine) Processor(ctx context.Context, apiKey string) (*Processor, error) {
	client, err := e.Client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return NewProcessor(client, Options{
		Tokenizer:   e.cfg.Tokenizer,
		ChunkTokens: e.cfg.ChunkTokens,
		Pause:       e.cfg.Pause,
		Budget:      e.cfg.Budget,
		Recorder:    e.cfg.Recorder,
		Logger:      e.cfg.Logger,
	})
}

// Documents returns the single-document operations bound to apiKey.
func (e *Engine) Documents(ctx context.Context, apiKey string) (*Documents, error) {
	client, err := e.Client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return NewDocuments(client, e.cfg.Tokenizer, e.cfg.ChunkTokens, e.cfg.Pause, e.cfg.Logger), nil
}

// Visualizer returns a chart generator bound to apiKey.
func (e *Engine) Visualizer(ctx context.Context, apiKey string) (*Visualizer, error) {
	client, err := e.Client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return NewVisualizer(client, e.cfg.Logger), nil
}

// Process validates in and runs the pipeline with apiKey. Input errors are
// reported before a client is built.
func (e *Engine) Process(ctx context.Context, apiKey string, in Input, emitter ProgressEmitter) (*ProcessingResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := e.Processor(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, in, emitter)
}
