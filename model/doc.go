// Package model defines the provider-agnostic abstraction used to talk to
// hosted language models, plus the error type shared by the provider adapters.
//
// Core goals:
//   - Hide vendor SDKs behind a single Generate interface
//   - Normalize provider failures into ProviderError so retry policies can
//     tell transient failures from permanent ones
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI, Gemini) live in sub-packages and implement
// Model; the transport package routes agent bindings to them.
package model
