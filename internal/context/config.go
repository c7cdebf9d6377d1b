// Package ctxengine manages the LLM-facing context of a conversation: the
// short-term message buffer, token estimation, and assembly of the system
// prompt with retrieved memory lines.
package ctxengine

// Defaults for BufferConfig.
const (
	DefaultMaxMessages = 20
	DefaultTokenBudget = 10_000_000
)

// BufferConfig holds the short-term buffer limits.
type BufferConfig struct {
	// MaxMessages keeps only the most recent messages, system messages
	// surviving longest. 0 means DefaultMaxMessages; negative disables it.
	MaxMessages int `yaml:"max_messages"`

	// TokenBudget caps the estimated tokens of the buffer. 0 means
	// DefaultTokenBudget.
	TokenBudget int `yaml:"token_budget"`
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// defaults.
func (cfg BufferConfig) withDefaults() BufferConfig {
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	return cfg
}

// AssemblerConfig holds the prompt assembly knobs.
type AssemblerConfig struct {
	// Instructions open the system prompt.
	Instructions string `yaml:"instructions"`

	// WindowSize is the model context window in tokens. 0 disables
	// window-based history trimming.
	WindowSize int `yaml:"window_size"`

	// ReservedForReply is the number of tokens reserved for the response.
	ReservedForReply int `yaml:"reserved_for_reply"`
}

func (cfg AssemblerConfig) withDefaults() AssemblerConfig {
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.ReservedForReply == 0 {
		cfg.ReservedForReply = 1024
	}
	return cfg
}
