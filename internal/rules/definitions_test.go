package rules

import (
	"strings"
	"testing"

	"argus-vms/internal/schema"
)

const sampleDefinition = `
title: After-hours motion
description: Motion detected outside staffed hours
criticality: high
model: motion-v2
cameras: [1, 2]
start_time: "22:00"
end_time: "06:00"
days_of_week: [mon, tue, wed, thu, fri]
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if def.Title != "After-hours motion" {
		t.Errorf("title = %q", def.Title)
	}
	if def.Criticality != schema.CriticalityHigh {
		t.Errorf("criticality = %q", def.Criticality)
	}
	if len(def.CameraIDs) != 2 || def.CameraIDs[0] != 1 || def.CameraIDs[1] != 2 {
		t.Errorf("cameras = %v", def.CameraIDs)
	}
	if len(def.DaysOfWeek) != 5 {
		t.Errorf("days = %v", def.DaysOfWeek)
	}
}

func TestParseDefinitions_List(t *testing.T) {
	doc := `
- title: Loitering
  description: Person lingering near entrance
  model: loiter-v1
  cameras: [3]
  start_time: "00:00"
  end_time: "23:59"
  days_of_week: [sat, sun]
- title: Vehicle in fire lane
  description: Stationary vehicle in marked fire lane
  criticality: critical
  model: vehicle-v3
  cameras: [4, 5]
  start_time: "08:00"
  end_time: "20:00"
  days_of_week: [mon]
`
	defs, err := ParseDefinitions([]byte(doc))
	if err != nil {
		t.Fatalf("ParseDefinitions: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Criticality != "" {
		t.Errorf("first definition criticality = %q, want empty", defs[0].Criticality)
	}
	if defs[1].Criticality != schema.CriticalityCritical {
		t.Errorf("second definition criticality = %q", defs[1].Criticality)
	}
}

func TestParseDefinitions_SingleDocument(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("ParseDefinitions: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
}

func TestDefinition_ValidationFailures(t *testing.T) {
	valid := func() Definition {
		return Definition{
			Title:       "After-hours motion",
			Description: "Motion outside staffed hours",
			Criticality: schema.CriticalityHigh,
			ModelName:   "motion-v2",
			CameraIDs:   []int64{1, 2},
			StartTime:   "22:00",
			EndTime:     "06:00",
			DaysOfWeek:  []schema.Weekday{schema.Monday},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr string
	}{
		{"missing title", func(d *Definition) { d.Title = "" }, "title"},
		{"missing description", func(d *Definition) { d.Description = "" }, "description"},
		{"missing model", func(d *Definition) { d.ModelName = "" }, "model"},
		{"bad criticality", func(d *Definition) { d.Criticality = "severe" }, "criticality"},
		{"no cameras", func(d *Definition) { d.CameraIDs = nil }, "camera"},
		{"duplicate cameras", func(d *Definition) { d.CameraIDs = []int64{1, 1} }, "cameras"},
		{"bad weekday", func(d *Definition) { d.DaysOfWeek = []schema.Weekday{"monday"} }, "schedule"},
		{"bad start time", func(d *Definition) { d.StartTime = "25:00" }, "schedule"},
		{"empty days", func(d *Definition) { d.DaysOfWeek = nil }, "schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(&def)
			err := def.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefinition_InputDefaultsCriticality(t *testing.T) {
	def := Definition{
		Title:       "Loitering",
		Description: "Person lingering",
		ModelName:   "loiter-v1",
		CameraIDs:   []int64{3},
		StartTime:   "00:00",
		EndTime:     "23:59",
		DaysOfWeek:  []schema.Weekday{schema.Saturday},
	}
	in := def.Input()
	if in.Criticality != schema.CriticalityLow {
		t.Errorf("criticality = %q, want low", in.Criticality)
	}
	if in.ModelName != "loiter-v1" {
		t.Errorf("model = %q", in.ModelName)
	}
}

func TestParseDefinition_Malformed(t *testing.T) {
	if _, err := ParseDefinition([]byte("title: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}
