package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"argus-vms/internal/schema"
)

// Definition is a rule described in a YAML provisioning file. It carries the
// same fields as CreateInput; camera IDs are resolved against the owning
// organization when the definition is applied, not at parse time.
type Definition struct {
	Title       string             `yaml:"title"`
	Description string             `yaml:"description"`
	Criticality schema.Criticality `yaml:"criticality"`
	ModelName   string             `yaml:"model"`
	CameraIDs   []int64            `yaml:"cameras"`
	StartTime   schema.TimeOfDay   `yaml:"start_time"`
	EndTime     schema.TimeOfDay   `yaml:"end_time"`
	DaysOfWeek  []schema.Weekday   `yaml:"days_of_week"`
}

// Validate checks the definition against the same constraints Create
// enforces, minus ownership, which needs a live store.
func (d *Definition) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if d.Description == "" {
		return fmt.Errorf("description is required")
	}
	if d.ModelName == "" {
		return fmt.Errorf("model is required")
	}
	if d.Criticality != "" && !d.Criticality.IsValid() {
		return fmt.Errorf("invalid criticality: %s", d.Criticality)
	}
	if len(d.CameraIDs) == 0 {
		return fmt.Errorf("at least one camera is required")
	}
	if err := checkDuplicateIDs(d.CameraIDs); err != nil {
		return fmt.Errorf("cameras: %v", err)
	}
	if err := ValidateSchedule(d.DaysOfWeek, d.StartTime, d.EndTime, false); err != nil {
		return fmt.Errorf("schedule: %v", err)
	}
	return nil
}

// Input converts the definition to a CreateInput, defaulting criticality to
// low the way the rule service does.
func (d *Definition) Input() CreateInput {
	crit := d.Criticality
	if crit == "" {
		crit = schema.CriticalityLow
	}
	return CreateInput{
		Title:       d.Title,
		Description: d.Description,
		Criticality: crit,
		ModelName:   d.ModelName,
		CameraIDs:   d.CameraIDs,
		StartTime:   d.StartTime,
		EndTime:     d.EndTime,
		DaysOfWeek:  d.DaysOfWeek,
	}
}

// ParseDefinition parses a single rule definition from YAML bytes.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse rule definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule definition: %w", err)
	}
	return &def, nil
}

// ParseDefinitions parses one or more rule definitions from YAML bytes.
// Accepts either a YAML list or a single document.
func ParseDefinitions(data []byte) ([]*Definition, error) {
	var defs []*Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		def, singleErr := ParseDefinition(data)
		if singleErr != nil {
			return nil, fmt.Errorf("failed to parse rule definitions: %w", err)
		}
		return []*Definition{def}, nil
	}

	for i, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return defs, nil
}
