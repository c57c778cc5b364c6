package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Skills: SkillsConfig{
			Enabled: []string{"memory", "cron", "filesystem"},
			Shell: ShellSkillConfig{
				Allow:       []string{"ls", "cat", "date", "uptime", "df"},
				TimeoutSec:  30,
				MaxOutputKB: 64,
			},
		},
		Memory: MemoryConfig{
			Enabled: true,
			Chunking: ChunkingConfig{
				Tokens:  512,
				Overlap: 32,
			},
			Search: SearchConfig{
				K:        6,
				MinScore: 0.3,
			},
			Sync: SyncConfig{
				IntervalMinutes: 10,
			},
		},
		Tide: TideConfig{
			SilenceCooldownMinutes: 30,
			InactiveStart:          "23:00",
			InactiveEnd:            "08:00",
		},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				TimeFormat:        "24h",
				MaxToolIterations: 8,
				TurnTimeoutSec:    120,
				MaxTokens:         4096,
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults; malformed content is a fatal
// configuration error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("MOOBOT_TELEGRAM_TOKEN", &c.Channels.Telegram.BotToken)
	envStr("MOOBOT_LINKED_BRIDGE_URL", &c.Channels.Linked.BridgeURL)
	envStr("MOOBOT_TIMEZONE", &c.Agents.Defaults.UserTimezone)

	// Provider keys referenced by name: MOOBOT_LLM_KEY_<NAME>
	for i := range c.LLM.Models {
		key := "MOOBOT_LLM_KEY_" + upperSnake(c.LLM.Models[i].Name)
		envStr(key, &c.LLM.Models[i].APIKey)
	}

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.BotToken != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Linked.BridgeURL != "" {
		c.Channels.Linked.Enabled = true
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

const secretMask = "***"

// MaskedCopy returns a deep copy with all secret fields masked, for
// log-safe dumps.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	for i := range cp.LLM.Models {
		maskNonEmpty(&cp.LLM.Models[i].APIKey)
	}
	for _, e := range []*ProviderEntry{cp.LLM.Vision, cp.LLM.Speech, cp.LLM.Image} {
		if e != nil {
			maskNonEmpty(&e.APIKey)
		}
	}
	maskNonEmpty(&cp.Channels.Telegram.BotToken)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

func upperSnake(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			out = append(out, ch-('a'-'A'))
		case (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9'):
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
