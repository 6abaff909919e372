package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/genlab/internal/genlab"
	"github.com/banshee-data/genlab/internal/httputil"
)

// Bar colours for a job slot.
const (
	colorReady   = "#35b779"
	colorPending = "#fde725"
	colorFailed  = "#b23b3b"
)

// handleProgressChart renders one bar per job of the current sweep: ready,
// still pending, or never submitted.
func (s *Server) handleProgressChart(w http.ResponseWriter, r *http.Request) {
	st := s.panel.State()

	bar := charts.NewBar()
	subtitle := "no sweep"
	x := []string{}
	y := []opts.BarData{}
	if sv := st.Session; sv != nil {
		subtitle = fmt.Sprintf("%s %d/%d ready, started %s", sv.Status, sv.Completed, sv.Total, sv.StartedAt.Format(time.RFC3339))
		for _, res := range sv.Results {
			x = append(x, res.Label)
			y = append(y, progressBar(res, res.Index < sv.Dispatched))
		}
	}

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "GenLab Sweep", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Sweep progress", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "job", AxisLabel: &opts.AxisLabel{Rotate: 30}}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Show: opts.Bool(false)}),
	)
	bar.SetXAxis(x).AddSeries("jobs", y)

	page := components.NewPage()
	page.SetPageTitle("GenLab Sweep")
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func progressBar(res genlab.ResultView, dispatched bool) opts.BarData {
	color := colorPending
	switch {
	case res.URL != "":
		color = colorReady
	case dispatched && res.Handle == "":
		color = colorFailed
	}
	return opts.BarData{
		Name:      res.Label,
		Value:     1,
		ItemStyle: &opts.ItemStyle{Color: color},
	}
}
