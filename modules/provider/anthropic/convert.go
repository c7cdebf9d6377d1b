package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/flemzord/hafiza/internal/provider"
)

// convertRequest builds Messages API parameters. Every system message,
// wherever it sits, joins the system prompt since the API has no inline
// system role.
func convertRequest(req provider.CompletionRequest, cfg Config) (sdkanthropic.MessageNewParams, error) {
	var (
		system   []sdkanthropic.TextBlockParam
		messages []sdkanthropic.MessageParam
	)
	for _, m := range req.Messages {
		switch m.Role {
		case provider.MessageRoleSystem:
			system = append(system, sdkanthropic.TextBlockParam{Text: m.Content})
		case provider.MessageRoleAssistant:
			messages = append(messages, sdkanthropic.NewAssistantMessage(sdkanthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock(m.Content)))
		}
	}
	if len(messages) == 0 {
		return sdkanthropic.MessageNewParams{}, errors.New("anthropic: request has no user content")
	}

	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		Messages:  messages,
		System:    system,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	temp := req.Temperature
	if temp == nil {
		temp = cfg.Temperature
	}
	if temp != nil {
		params.Temperature = sdkanthropic.Float(*temp)
	}
	return params, nil
}

// convertResponse joins the text blocks of msg.
func convertResponse(msg *sdkanthropic.Message) provider.CompletionResponse {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(block.Text)
	}

	return provider.CompletionResponse{
		Content:      b.String(),
		FinishReason: convertStopReason(msg.StopReason),
		Usage: provider.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func convertStopReason(reason sdkanthropic.StopReason) provider.FinishReason {
	switch reason {
	case sdkanthropic.StopReasonMaxTokens:
		return provider.FinishReasonLength
	case sdkanthropic.StopReasonRefusal:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}

// mapError classifies API errors into provider sentinels.
func mapError(err error) error {
	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
	}
	code := apiErr.StatusCode
	ctxLen := code == http.StatusBadRequest && isContextLength(apiErr.RawJSON())
	if class := provider.ClassifyStatus(code, ctxLen); class != nil {
		return fmt.Errorf("%w: %w", class, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}

// isContextLength reports whether an error body complains about the
// prompt size.
func isContextLength(raw string) bool {
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := raw
	if err := json.Unmarshal([]byte(raw), &body); err == nil {
		if body.Error.Type != "invalid_request_error" {
			return false
		}
		msg = body.Error.Message
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "too many tokens")
}
