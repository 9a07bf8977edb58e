package main

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/hupe1980/agentcouncil"
	"github.com/hupe1980/agentcouncil/config"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/metrics"
	"github.com/hupe1980/agentcouncil/model"
	anthropicmodel "github.com/hupe1980/agentcouncil/model/anthropic"
	"github.com/hupe1980/agentcouncil/model/gemini"
	openaimodel "github.com/hupe1980/agentcouncil/model/openai"
	"github.com/hupe1980/agentcouncil/store"
	"github.com/hupe1980/agentcouncil/transport"
)

// app holds the wired council and the resources it owns.
type app struct {
	council *agentcouncil.Council
	store   *store.SQLite
	metrics *metrics.Collector
}

// newApp opens the history store and wires the council. Records go to the
// store and to every extra sink.
func newApp(cfg *config.Config, logger logging.Logger, sinks ...core.Recorder) (*app, error) {
	for _, p := range cfg.ProviderKeyMissing() {
		logger.Warn("No API key configured for provider", "provider", string(p))
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	db, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	collector := metrics.NewCollector(nil)
	recorder := collector.Recorder(store.NewTee(append([]core.Recorder{db}, sinks...)...))

	council, err := agentcouncil.New(reg, collector.Transport(newTransport(cfg, logger)), func(o *agentcouncil.Options) {
		o.Logger = logger
		o.Recorder = recorder
		o.History = db
		o.Policy = collector.Policy(cfg.RetryPolicy())
		o.Concurrency = cfg.Dispatch.Concurrency
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{council: council, store: db, metrics: collector}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil && logger != nil {
		logger.Warn("Failed to close store", "error", err.Error())
	}
}

// newTransport registers one model factory per provider. SDK-level retries
// are disabled; the council's retry policy owns replays.
func newTransport(cfg *config.Config, logger logging.Logger) *transport.Router {
	providers := cfg.Providers

	return transport.NewRouter(func(o *transport.Options) {
		o.Logger = logger
		o.Timeout = providers.CallTimeout
	}).
		Register(core.ProviderAnthropic, func(id string) (model.Model, error) {
			pc := providers.Anthropic
			return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
				o.Model = anthropic.Model(id)
				o.APIKey = pc.APIKey
				o.RequestOptions = append(o.RequestOptions, anthropicopt.WithMaxRetries(0))
				if pc.BaseURL != "" {
					o.RequestOptions = append(o.RequestOptions, anthropicopt.WithBaseURL(pc.BaseURL))
				}
			}), nil
		}).
		Register(core.ProviderOpenAI, func(id string) (model.Model, error) {
			pc := providers.OpenAI
			return openaimodel.NewModel(func(o *openaimodel.Options) {
				o.Model = id
				o.APIKey = pc.APIKey
				o.RequestOptions = append(o.RequestOptions, openaiopt.WithMaxRetries(0))
				if pc.BaseURL != "" {
					o.RequestOptions = append(o.RequestOptions, openaiopt.WithBaseURL(pc.BaseURL))
				}
			}), nil
		}).
		Register(core.ProviderGemini, func(id string) (model.Model, error) {
			pc := providers.Gemini
			return gemini.NewModel(func(o *gemini.Options) {
				o.Model = id
				o.APIKey = pc.APIKey
				if pc.BaseURL != "" {
					o.BaseURL = pc.BaseURL
				}
			}), nil
		})
}
