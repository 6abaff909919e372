package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/banshee-data/genlab/internal/sweep"
)

var planCmd = &cobra.Command{
	Use:   "plan --param NODE/NAME=VALUES ...",
	Short: "Preview the combinations a sweep would submit",
	Long: `Preview the combinations a sweep would submit.

VALUES is either a numeric range MIN:MAX:STEP or a comma-separated list.
Lists of numbers are numeric; anything else is kept as text. Parameters are
expanded in the order given, the last one varying fastest.`,
	Example: `  genlab plan --param 3/steps=10:30:10 --param 3/sampler_name=euler,heun`,
	Args:    cobra.NoArgs,
	RunE:    runPlan,
}

func init() {
	planCmd.Flags().StringArray("param", nil, "Parameter candidates as NODE/NAME=VALUES (repeatable)")
	planCmd.Flags().Int("max", sweep.DefaultMaxCombinations, "Maximum number of combinations")
	planCmd.Flags().StringP("output", "o", "", "Output format (json)")
	_ = planCmd.MarkFlagRequired("param")
}

func runPlan(cmd *cobra.Command, args []string) error {
	specs, _ := cmd.Flags().GetStringArray("param")
	max, _ := cmd.Flags().GetInt("max")
	output, _ := cmd.Flags().GetString("output")

	vs, err := buildValueSet(specs)
	if err != nil {
		return err
	}
	assignments, err := sweep.ExpandChecked(vs, max)
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(assignments)
	}

	pterm.Info.Printf("%d combinations (limit %d)\n", len(assignments), max)
	return pterm.DefaultTable.WithHasHeader().WithData(planTable(assignments)).Render()
}

// parseParamSpec splits "NODE/NAME=VALUES" into its key and candidates.
func parseParamSpec(spec string) (sweep.ParamKey, []any, error) {
	key, values, ok := strings.Cut(spec, "=")
	if !ok {
		return sweep.ParamKey{}, nil, fmt.Errorf("invalid param %q: expected NODE/NAME=VALUES", spec)
	}
	node, name, ok := strings.Cut(key, "/")
	if !ok || strings.TrimSpace(name) == "" {
		return sweep.ParamKey{}, nil, fmt.Errorf("invalid param %q: expected NODE/NAME=VALUES", spec)
	}
	nodeID, err := strconv.Atoi(strings.TrimSpace(node))
	if err != nil {
		return sweep.ParamKey{}, nil, fmt.Errorf("invalid node id %q: %w", node, err)
	}

	parsed, err := sweep.ParseValueList(values, sweep.KindNumeric)
	if err != nil {
		// Not numeric: keep the items as text.
		parsed, err = sweep.ParseValueList(values, sweep.KindEnumerated)
		if err != nil {
			return sweep.ParamKey{}, nil, err
		}
	}
	return sweep.ParamKey{NodeID: nodeID, ParamName: strings.TrimSpace(name)}, parsed, nil
}

func buildValueSet(specs []string) (*sweep.ValueSet, error) {
	vs := sweep.NewValueSet()
	for _, spec := range specs {
		key, values, err := parseParamSpec(spec)
		if err != nil {
			return nil, err
		}
		vs.AppendValues(key.NodeID, key.ParamName, values...)
	}
	return vs, nil
}

// planTable has one row per assignment with a column per swept parameter.
func planTable(assignments []sweep.Assignment) pterm.TableData {
	if len(assignments) == 0 {
		return pterm.TableData{{"#"}}
	}
	header := []string{"#"}
	for _, s := range assignments[0] {
		header = append(header, s.Key().String())
	}
	data := pterm.TableData{header}
	for i, a := range assignments {
		row := []string{strconv.Itoa(i)}
		for _, s := range a {
			row = append(row, sweep.FormatValue(s.Value))
		}
		data = append(data, row)
	}
	return data
}
