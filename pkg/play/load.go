package play

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPlaybook parses the given playbook YAML into its plays and validates
// each of them. A playbook is a YAML sequence of plays.
func LoadPlaybook(path string) ([]Play, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("playbook %s is empty", path)
	}

	var plays []Play
	if err := yaml.Unmarshal(data, &plays); err != nil {
		return nil, fmt.Errorf("parse playbook %s: %w", path, err)
	}

	for i := range plays {
		if err := Validate(&plays[i]); err != nil {
			return nil, fmt.Errorf("play %q: %w", plays[i].Name, err)
		}
	}
	return plays, nil
}
