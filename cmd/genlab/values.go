package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/banshee-data/genlab/internal/sweep"
)

var valuesCmd = &cobra.Command{
	Use:   "values MIN:MAX:STEP",
	Short: "Preview the candidate values generated for a numeric range",
	Long: `Preview the candidate values generated for a numeric range.

Ranges of at most 10 steps produce min, min+step, ... up to max. Wider ranges
are resampled to 10 evenly spaced values.`,
	Args: cobra.ExactArgs(1),
	RunE: runValues,
}

func init() {
	valuesCmd.Flags().IntP("precision", "p", 0, "Decimal digits to round values to")
}

func runValues(cmd *cobra.Command, args []string) error {
	precision, _ := cmd.Flags().GetInt("precision")
	r, err := sweep.ParseRangeSpec(args[0])
	if err != nil {
		return err
	}
	r.Precision = precision

	values := sweep.GenerateNumericTestValues(r.Min, r.Max, r.Step, r.Precision)
	pterm.Info.Printf("%d values for %s\n", len(values), describeRange(r))
	return pterm.DefaultTable.WithHasHeader().WithData(valuesTable(values)).Render()
}

// valuesTable lays out generated values as rows of (index, value).
func valuesTable(values []float64) pterm.TableData {
	data := pterm.TableData{{"#", "Value"}}
	for i, v := range values {
		data = append(data, []string{strconv.Itoa(i), sweep.FormatValue(v)})
	}
	return data
}

func describeRange(r sweep.NumericRange) string {
	return fmt.Sprintf("%s:%s:%s", sweep.FormatValue(r.Min), sweep.FormatValue(r.Max), sweep.FormatValue(r.Step))
}
