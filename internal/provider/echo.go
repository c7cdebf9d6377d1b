package provider

import "context"

// EchoPrefix starts every Echo reply.
const EchoPrefix = "(no LLM: simple reply) "

// Echo answers without a model by repeating the last user message. It is
// the provider of last resort when no LLM module is configured.
type Echo struct{}

var _ Provider = Echo{}

// Complete returns EchoPrefix followed by the last user message.
func (Echo) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{
		Content:      EchoPrefix + LastUserMessage(req.Messages),
		FinishReason: FinishReasonStop,
	}, nil
}

// ModelName implements Provider.
func (Echo) ModelName() string { return "echo" }
