// Package provider defines the Provider interface used to talk to LLMs,
// an ordered fallback chain and an offline echo provider.
package provider

import "context"

// ServiceChain is the core.AppContext service name of the provider chain
// assembled from every configured provider module.
const ServiceChain = "provider.chain"

// Provider is the interface for communicating with an LLM.
// Concrete implementations live under modules/provider and also implement
// core.Module for lifecycle management.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}
