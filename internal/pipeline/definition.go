package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/beamline/botfleet/internal/model"
)

// LoadDefinition reads the workspace pipeline definition from a YAML
// file. A missing path yields an empty (disabled) pipeline.
func LoadDefinition(path string) (model.Pipeline, error) {
	if path == "" {
		return model.Pipeline{}, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.Pipeline{}, nil
	}
	if err != nil {
		return model.Pipeline{}, fmt.Errorf("failed to read pipeline definition %s: %w", path, err)
	}

	var p model.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.Pipeline{}, fmt.Errorf("failed to parse pipeline definition %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(p.Stages))
	for i, s := range p.Stages {
		if s.ID == "" {
			return model.Pipeline{}, fmt.Errorf("pipeline definition %s: stage %d has no id", path, i)
		}
		if _, dup := seen[s.ID]; dup {
			return model.Pipeline{}, fmt.Errorf("pipeline definition %s: duplicate stage id %q", path, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Action == "" {
			p.Stages[i].Action = model.StageActionMove
		}
	}
	return p, nil
}
