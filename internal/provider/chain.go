package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Chain tries its providers in order and moves to the next one when a call
// fails with a retryable error. A non-retryable error stops the chain.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

var _ Provider = (*Chain)(nil)

// NewChain creates a chain over providers. At least one is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrNoProvider
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w: entry %d is nil", ErrNoProvider, i)
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{providers: providers, logger: logger}, nil
}

// Complete implements Provider.
func (c *Chain) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var errs []error
	for _, p := range c.providers {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return CompletionResponse{}, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.ModelName(), err))
		if !IsRetryable(err) {
			return CompletionResponse{}, err
		}
		c.logger.Warn("provider failed, trying next", "model", p.ModelName(), "error", err)
	}
	return CompletionResponse{}, fmt.Errorf("%w: %w", ErrAllProviders, errors.Join(errs...))
}

// ModelName returns the model names of the chain joined by ">".
func (c *Chain) ModelName() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.ModelName()
	}
	return strings.Join(names, ">")
}
