package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pterm/pterm"

	"github.com/banshee-data/genlab/internal/sweep"
)

func TestParseParamSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		key     sweep.ParamKey
		values  []any
		wantErr bool
	}{
		{"range", "3/steps=10:30:10", sweep.ParamKey{NodeID: 3, ParamName: "steps"}, []any{10.0, 20.0, 30.0}, false},
		{"number list", "3/cfg=7, 7.5", sweep.ParamKey{NodeID: 3, ParamName: "cfg"}, []any{7.0, 7.5}, false},
		{"text list", "3/sampler_name=euler,heun", sweep.ParamKey{NodeID: 3, ParamName: "sampler_name"}, []any{"euler", "heun"}, false},
		{"no equals", "3/steps", sweep.ParamKey{}, nil, true},
		{"no node", "steps=1,2", sweep.ParamKey{}, nil, true},
		{"bad node", "x/steps=1,2", sweep.ParamKey{}, nil, true},
		{"empty name", "3/=1,2", sweep.ParamKey{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, values, err := parseParamSpec(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseParamSpec(%q) expected error", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseParamSpec(%q) unexpected error: %v", tt.spec, err)
			}
			if key != tt.key {
				t.Errorf("key = %v, want %v", key, tt.key)
			}
			if diff := cmp.Diff(tt.values, values); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanTable(t *testing.T) {
	vs, err := buildValueSet([]string{"3/steps=10:20:10", "3/sampler_name=euler,heun"})
	if err != nil {
		t.Fatalf("buildValueSet: %v", err)
	}
	assignments, err := sweep.ExpandChecked(vs, 10)
	if err != nil {
		t.Fatalf("ExpandChecked: %v", err)
	}

	want := pterm.TableData{
		{"#", "3/steps", "3/sampler_name"},
		{"0", "10", "euler"},
		{"1", "10", "heun"},
		{"2", "20", "euler"},
		{"3", "20", "heun"},
	}
	if diff := cmp.Diff(want, planTable(assignments)); diff != "" {
		t.Errorf("planTable mismatch (-want +got):\n%s", diff)
	}

	if _, err := sweep.ExpandChecked(vs, 3); err == nil {
		t.Error("expected the cap to reject 4 combinations")
	}
}

func TestValuesTable(t *testing.T) {
	want := pterm.TableData{
		{"#", "Value"},
		{"0", "0"},
		{"1", "0.5"},
		{"2", "1"},
	}
	if diff := cmp.Diff(want, valuesTable(sweep.GenerateNumericTestValues(0, 1, 0.5, 1))); diff != "" {
		t.Errorf("valuesTable mismatch (-want +got):\n%s", diff)
	}

	if got := describeRange(sweep.NumericRange{Min: 1, Max: 2.5, Step: 0.5}); got != "1:2.5:0.5" {
		t.Errorf("describeRange = %q", got)
	}
}
