// Package config provides the typed view over the single moobot
// configuration document.
package config

import (
	"sync"
	"time"
)

// Config is the root configuration object, loaded once at startup.
type Config struct {
	mu sync.RWMutex `json:"-"`

	LLM      LLMConfig      `json:"llm"`
	Skills   SkillsConfig   `json:"skills"`
	Memory   MemoryConfig   `json:"memory"`
	Tide     TideConfig     `json:"tide"`
	Agents   AgentsConfig   `json:"agents"`
	Owner    OwnerConfig    `json:"owner"`
	Channels ChannelsConfig `json:"channels"`
}

// ProviderEntry describes one LLM provider in the ordered fallback list.
type ProviderEntry struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"` // "openai" (OpenAI-compatible) or "anthropic"
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url,omitempty"`
	Model        string   `json:"model"`
	Capabilities []string `json:"capabilities,omitempty"` // chat, embed, vision, speech, image
}

// HasCapability reports whether the entry advertises a capability.
// An entry with no declared capabilities advertises chat only.
func (p ProviderEntry) HasCapability(cap string) bool {
	if len(p.Capabilities) == 0 {
		return cap == "chat"
	}
	for _, c := range p.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// LLMConfig holds the provider list plus optional explicit fallbacks for
// capabilities that often live on a different provider than chat.
type LLMConfig struct {
	Models []ProviderEntry `json:"models"`
	Vision *ProviderEntry  `json:"vision,omitempty"`
	Speech *ProviderEntry  `json:"speech,omitempty"`
	Image  *ProviderEntry  `json:"image,omitempty"`
}

// SkillsConfig selects which skills are exposed and configures individual
// executors.
type SkillsConfig struct {
	Enabled []string         `json:"enabled"`
	Shell   ShellSkillConfig `json:"shell"`
}

// ShellSkillConfig guards the shell skill: allow-list, timeout, output cap.
// The skill is always denied in group contexts regardless of this config.
type ShellSkillConfig struct {
	Allow       []string `json:"allow"`
	TimeoutSec  int      `json:"timeout_sec"`
	MaxOutputKB int      `json:"max_output_kb"`
}

// MemoryConfig configures the semantic memory index.
type MemoryConfig struct {
	Enabled      bool            `json:"enabled"`
	WorkspaceDir string          `json:"workspace_dir,omitempty"`
	IndexPath    string          `json:"index_path,omitempty"`
	Embedding    EmbeddingConfig `json:"embedding"`
	Chunking     ChunkingConfig  `json:"chunking"`
	Search       SearchConfig    `json:"search"`
	Sync         SyncConfig      `json:"sync"`
}

// EmbeddingConfig selects the embedding provider explicitly. There is no
// silent fallback between providers: the named entry must exist in
// llm.models and advertise the embed capability.
type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// ChunkingConfig bounds chunk size and overlap, in approximate tokens.
type ChunkingConfig struct {
	Tokens  int `json:"tokens"`
	Overlap int `json:"overlap"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	K        int     `json:"k"`
	MinScore float64 `json:"min_score"`
}

// SyncConfig controls the periodic index sync.
type SyncConfig struct {
	IntervalMinutes int      `json:"interval_minutes"`
	FilesystemRoots []string `json:"filesystem_roots,omitempty"`
}

// TideConfig controls the idle-wake scheduler.
type TideConfig struct {
	Enabled                bool   `json:"enabled"`
	SilenceCooldownMinutes int    `json:"silence_cooldown_minutes"`
	InactiveStart          string `json:"inactive_start"` // "HH:MM", user timezone
	InactiveEnd            string `json:"inactive_end"`   // "HH:MM", may wrap midnight
	JID                    string `json:"jid,omitempty"`  // target chat; Tide is off when unset
}

// AgentsConfig holds agent-level defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults are the per-turn knobs for the agent loop.
type AgentDefaults struct {
	UserTimezone      string `json:"user_timezone"`
	TimeFormat        string `json:"time_format"` // "12h" or "24h"
	MaxToolIterations int    `json:"max_tool_iterations"`
	TurnTimeoutSec    int    `json:"turn_timeout_sec"`
	MaxTokens         int    `json:"max_tokens"`
	SystemPrompt      string `json:"system_prompt,omitempty"`
}

// OwnerConfig identifies the operator on bot-API transports.
type OwnerConfig struct {
	TelegramUserID int64 `json:"telegram_user_id,omitempty"`
}

// ChannelsConfig configures the wired transports.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Linked   LinkedConfig   `json:"linked"`
}

// TelegramConfig configures the bot-API transport.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	BotToken  string   `json:"bot_token"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// LinkedConfig configures the linked-device transport. The actual protocol
// lives in an external bridge process; moobot talks to it over a local
// WebSocket.
type LinkedConfig struct {
	Enabled   bool   `json:"enabled"`
	BridgeURL string `json:"bridge_url"`
}

// UserLocation resolves the configured user timezone, falling back to the
// host's local zone on error or when unset.
func (c *Config) UserLocation() *time.Location {
	c.mu.RLock()
	tz := c.Agents.Defaults.UserTimezone
	c.mu.RUnlock()
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// SkillEnabled reports whether a skill id appears in skills.enabled.
func (c *Config) SkillEnabled(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.Skills.Enabled {
		if s == id {
			return true
		}
	}
	return false
}

// TurnTimeout returns the per-turn wall-clock cap.
func (c *Config) TurnTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sec := c.Agents.Defaults.TurnTimeoutSec
	if sec <= 0 {
		sec = 120
	}
	return time.Duration(sec) * time.Second
}
