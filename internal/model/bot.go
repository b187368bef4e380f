package model

import (
	"fmt"
	"regexp"
	"time"
)

var botIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// BotConfig is the declarative configuration of a single bot. The
// orchestrator reads and writes it through the config store but only
// inspects the fields below; integrations may attach arbitrary extra
// settings under Extra.
type BotConfig struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name,omitempty"`
	DefaultLanguage string                 `json:"defaultLanguage"`
	Languages       []string               `json:"languages"`
	Disabled        bool                   `json:"disabled"`
	Pipeline        *PipelineStatus        `json:"pipeline,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Validate checks the invariants the orchestrator relies on before a
// bot may be mounted.
func (c *BotConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("bot id is required")
	}
	if !botIDPattern.MatchString(c.ID) {
		return fmt.Errorf("invalid bot id %q", c.ID)
	}
	if c.DefaultLanguage == "" {
		return fmt.Errorf("bot %s: default language is required", c.ID)
	}
	for _, lang := range c.Languages {
		if lang == c.DefaultLanguage {
			return nil
		}
	}
	return fmt.Errorf("bot %s: default language %q is not in the supported languages %v",
		c.ID, c.DefaultLanguage, c.Languages)
}

// Clone returns a deep copy of the config. Used by promote_copy so the
// duplicated bot does not share mutable state with the original.
func (c *BotConfig) Clone() *BotConfig {
	clone := *c
	clone.Languages = append([]string(nil), c.Languages...)
	if c.Pipeline != nil {
		clone.Pipeline = c.Pipeline.Clone()
	}
	if c.Extra != nil {
		clone.Extra = make(map[string]interface{}, len(c.Extra))
		for k, v := range c.Extra {
			clone.Extra[k] = v
		}
	}
	return &clone
}
