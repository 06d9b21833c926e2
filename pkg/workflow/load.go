// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/errors"
)

// Definition is the file format for a workflow.
type Definition struct {
	ID    string           `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string           `json:"name" yaml:"name"`
	Steps []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition is one step entry in a definition file.
type StepDefinition struct {
	ID         string            `json:"id" yaml:"id"`
	Capability string            `json:"capability" yaml:"capability"`
	MinVersion string            `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	Payload    any               `json:"payload,omitempty" yaml:"payload,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Compensate *ActionDefinition `json:"compensate,omitempty" yaml:"compensate,omitempty"`
}

// ActionDefinition describes a compensation dispatch.
type ActionDefinition struct {
	Capability string `json:"capability" yaml:"capability"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	Payload    any    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Compile converts the definition into engine steps, validating capability
// names along the way.
func (d Definition) Compile() ([]Step, error) {
	steps := make([]Step, 0, len(d.Steps))
	for _, sd := range d.Steps {
		t := capability.Type(sd.Capability)
		if !t.Valid() {
			return nil, errors.New(errors.CodeValidation, "unknown capability type", nil).
				WithContext("step", sd.ID).
				WithContext("capability", sd.Capability)
		}
		step := Step{
			ID:        sd.ID,
			Action:    Action{Capability: capability.Capability{Type: t, Version: sd.MinVersion}, Payload: sd.Payload},
			DependsOn: sd.DependsOn,
		}
		if sd.Compensate != nil {
			ct := capability.Type(sd.Compensate.Capability)
			if !ct.Valid() {
				return nil, errors.New(errors.CodeValidation, "unknown compensation capability type", nil).
					WithContext("step", sd.ID).
					WithContext("capability", sd.Compensate.Capability)
			}
			step.Compensate = &Action{
				Capability: capability.Capability{Type: ct, Version: sd.Compensate.MinVersion},
				Payload:    sd.Compensate.Payload,
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// ParseJSON loads a definition from JSON and validates its DAG.
func ParseJSON(data []byte) (*Definition, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.CodeValidation, "empty JSON payload", nil)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errors.New(errors.CodeValidation, "parse json workflow", err)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseYAML loads a definition from YAML and validates its DAG.
func ParseYAML(data []byte) (*Definition, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.CodeValidation, "empty YAML payload", nil)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.New(errors.CodeValidation, "parse yaml workflow", err)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return errors.New(errors.CodeValidation, "workflow name is required", nil)
	}
	steps, err := d.Compile()
	if err != nil {
		return err
	}
	return validateDAG(steps)
}

// Load reads a definition from a YAML or JSON file, picking the codec by
// extension and falling back to sniffing the payload.
func Load(path string) (*Definition, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.CodeValidation, "workflow path is required", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		if def, err := ParseJSON(data); err == nil {
			return def, nil
		}
	}
	return ParseYAML(data)
}
