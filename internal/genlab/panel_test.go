package genlab

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/genlab/internal/assistant"
	"github.com/banshee-data/genlab/internal/comfy"
	"github.com/banshee-data/genlab/internal/store"
	"github.com/banshee-data/genlab/internal/sweep"
)

func TestScreen_String(t *testing.T) {
	assert.Equal(t, "parameter_pick", ScreenParameterPick.String())
	assert.Equal(t, "result_gallery", ScreenResultGallery.String())
	assert.Equal(t, "screen(9)", Screen(9).String())
}

func TestPanel_ParameterPickState(t *testing.T) {
	f := newFixture(t, testGraph())
	st := f.panel.State()

	assert.Equal(t, ScreenParameterPick, st.Screen)
	assert.Equal(t, []string{"steps", "cfg", "sampler_name"}, st.SelectedParams)
	assert.Equal(t, []string{"seed", "steps", "cfg", "sampler_name", "text"}, st.AvailableParams)
	require.Len(t, st.Nodes, 2)
	assert.Equal(t, 3, st.Nodes[0].NodeID)
	assert.Len(t, st.Nodes[0].Params, 4, "button widgets are not sweepable")
	assert.Equal(t, sweep.KindFreeText, st.Nodes[1].Params[0].Kind)
	assert.NotEmpty(t, st.TaskID)
}

func TestPanel_NextSeedsDefaultsAndEnforcesCap(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel

	require.NoError(t, p.Next())
	st := p.State()
	require.Equal(t, ScreenValueConfiguration, st.Screen)
	require.Len(t, st.Nodes, 2)

	params := map[string]ParamCard{}
	for _, pc := range st.Nodes[0].Params {
		params[pc.Name] = pc
	}
	assert.NotContains(t, params, "seed", "unselected params get no card")
	assert.Equal(t, []any{"euler", "heun", "lms"}, params["sampler_name"].Values)
	steps := params["steps"].Values
	require.Len(t, steps, 10)
	assert.Equal(t, 1.0, steps[0])
	assert.Equal(t, 10000.0, steps[9])
	require.NotNil(t, params["steps"].Range)
	assert.Equal(t, 1.0, params["steps"].Range.Step)
	assert.Len(t, params["cfg"].Values, 10)
	assert.Empty(t, st.Nodes[1].Params)
	assert.Equal(t, 300, st.TotalCount)

	err := p.Next()
	var tooMany *sweep.TooManyCombinationsError
	require.True(t, errors.As(err, &tooMany), "got %v", err)
	assert.Equal(t, 300, tooMany.Count)
	assert.Equal(t, ScreenValueConfiguration, p.Screen())
	assert.Contains(t, p.State().Error, "300")

	// Narrowing the sweep clears the message and lets the panel advance.
	require.NoError(t, p.SetValues(3, "steps", []any{20}))
	require.NoError(t, p.SetValues(3, "cfg", []any{7}))
	assert.Empty(t, p.State().Error)
	require.NoError(t, p.Next())
	assert.Equal(t, ScreenConfirmation, p.Screen())
	assert.Equal(t, 3, p.State().TotalCount)
}

func TestPanel_EmptySweepRejected(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel

	for _, name := range []string{"steps", "cfg", "sampler_name"} {
		selected, err := p.ToggleParam(name)
		require.NoError(t, err)
		require.False(t, selected)
	}
	require.NoError(t, p.Next())
	assert.ErrorIs(t, p.Next(), sweep.ErrNoValidCombinations)
	assert.Equal(t, sweep.ErrNoValidCombinations.Error(), p.State().Error)
}

func TestPanel_DeselectPrunesEveryNode(t *testing.T) {
	f := newFixture(t, testGraph())
	f.host.Select([]int{3, 12})
	p := f.panel

	require.NoError(t, p.Next())
	require.NoError(t, p.SetValues(3, "steps", []any{10, 20}))
	require.NoError(t, p.SetValues(3, "cfg", []any{7, 8}))
	require.NoError(t, p.SetValues(3, "sampler_name", []any{"euler"}))
	require.NoError(t, p.SetValues(12, "steps", []any{5}))
	require.NoError(t, p.SetValues(12, "cfg", []any{4, 5}))

	hasCfg := func() bool {
		for _, a := range sweep.Expand(p.values) {
			for _, s := range a {
				if s.ParamName == "cfg" {
					return true
				}
			}
		}
		return false
	}
	require.True(t, hasCfg())

	require.NoError(t, p.Previous())
	selected, err := p.ToggleParam("cfg")
	require.NoError(t, err)
	require.False(t, selected)
	assert.False(t, hasCfg(), "cfg survived deselection")

	require.NoError(t, p.Next())
	assert.Equal(t, 2, p.State().TotalCount)
	require.NoError(t, p.Next())
	assert.Equal(t, ScreenConfirmation, p.Screen())
}

func TestPanel_PreviousPrunesDeselectedNodes(t *testing.T) {
	f := newFixture(t, testGraph())
	f.host.Select([]int{3, 12})
	p := f.panel

	require.NoError(t, p.Next())
	require.NoError(t, p.SetValues(12, "steps", []any{5}))

	f.host.Select([]int{3})
	require.NoError(t, p.Previous())
	assert.False(t, p.values.Has(12, "steps"))
	assert.True(t, p.values.Has(3, "steps"))
}

func TestPanel_NextRequiresSelection(t *testing.T) {
	f := newFixture(t, testGraph())
	f.host.Select(nil)

	assert.ErrorIs(t, f.panel.Next(), ErrNoSelection)
	assert.Equal(t, ErrNoSelection.Error(), f.panel.State().Error)
}

func TestPanel_WrongScreen(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel

	assert.ErrorIs(t, p.Previous(), ErrWrongScreen)
	_, err := p.Start(0)
	assert.ErrorIs(t, err, ErrWrongScreen)
	assert.ErrorIs(t, p.Cancel(context.Background()), ErrWrongScreen)
	assert.ErrorIs(t, p.SetValues(3, "steps", []any{1}), ErrWrongScreen)
	assert.ErrorIs(t, p.SelectResult(0), ErrWrongScreen)

	require.NoError(t, p.Next())
	_, err = p.ToggleParam("seed")
	assert.ErrorIs(t, err, ErrWrongScreen)
}

func TestPanel_ValueEditing(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel
	require.NoError(t, p.Next())

	assert.ErrorIs(t, p.SetValues(99, "steps", nil), ErrUnknownNode)
	assert.ErrorIs(t, p.SetValues(3, "seed", nil), ErrUnknownParam)
	assert.Error(t, p.SetValues(3, "steps", []any{"many"}))
	assert.ErrorIs(t, p.SetNumericRange(3, "sampler_name", sweep.NumericRange{Min: 1, Max: 2, Step: 1}), ErrWrongKind)
	assert.ErrorIs(t, p.SelectAll(3, "steps"), ErrWrongKind)

	require.NoError(t, p.SelectAll(3, "sampler_name"))
	assert.Equal(t, []any{"euler", "heun", "lms", "dpmpp_2m"}, p.values.Values(3, "sampler_name"))
	require.NoError(t, p.SelectAll(3, "sampler_name"))
	assert.Empty(t, p.values.Values(3, "sampler_name"))

	present, err := p.ToggleValue(3, "sampler_name", "heun")
	require.NoError(t, err)
	assert.True(t, present)
	present, err = p.ToggleValue(3, "steps", "25")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Contains(t, p.values.Values(3, "steps"), 25.0)

	require.NoError(t, p.SetNumericRange(3, "cfg", sweep.NumericRange{Min: 1, Max: 2, Step: 0.25, Precision: 2}))
	assert.Equal(t, []any{1.0, 1.25, 1.5, 1.75, 2.0}, p.values.Values(3, "cfg"))

	// Explicit values drop the stored range.
	require.NoError(t, p.SetValues(3, "cfg", []any{3}))
	for _, pc := range p.State().Nodes[0].Params {
		if pc.Name == "cfg" {
			assert.Nil(t, pc.Range)
		}
	}
}

func TestPanel_CloseNode(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel
	taskID := p.TaskID()
	require.NoError(t, p.Next())

	assert.ErrorIs(t, p.CloseNode(12), ErrUnknownNode)

	require.NoError(t, p.CloseNode(3))
	st := p.State()
	require.Len(t, st.Nodes, 1)
	assert.Equal(t, 6, st.Nodes[0].NodeID)
	assert.False(t, p.values.Has(3, "steps"))

	// Closing the last card closes the panel.
	require.NoError(t, p.CloseNode(6))
	assert.Equal(t, ScreenParameterPick, p.Screen())
	assert.NotEqual(t, taskID, p.TaskID())
	assert.True(t, p.values.IsEmpty())
}

func TestPanel_FreeText(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel
	_, err := p.ToggleParam("text")
	require.NoError(t, err)
	require.NoError(t, p.Next())

	assert.Equal(t, []any{""}, p.values.Values(6, "text"))
	require.NoError(t, p.SetText(6, "text", 0, "a lighthouse"))
	require.NoError(t, p.AddText(6, "text"))
	require.NoError(t, p.SetText(6, "text", 1, "a castle"))
	require.NoError(t, p.AddText(6, "text"))
	require.NoError(t, p.RemoveText(6, "text", 2))
	assert.Equal(t, []any{"a lighthouse", "a castle"}, p.values.Values(6, "text"))

	assert.ErrorIs(t, p.SetText(6, "text", 5, "x"), ErrOutOfRange)
	assert.ErrorIs(t, p.RemoveText(6, "text", -1), ErrOutOfRange)
	assert.ErrorIs(t, p.AddText(3, "steps"), ErrWrongKind)
	_, err = p.ToggleValue(6, "text", "x")
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestPanel_TextVariants(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel
	ctx := context.Background()
	f.assistant.variants = []string{"a lighthouse at dawn", "a lighthouse in fog", "a lighthouse in a storm"}

	_, err := p.ToggleParam("text")
	require.NoError(t, err)
	require.NoError(t, p.Next())
	require.NoError(t, p.SetText(6, "text", 0, "a lighthouse"))

	assert.ErrorIs(t, p.ApplyTextVariants(6, "text", []int{0}), ErrNoVariants)

	texts, err := p.GenerateTextVariants(ctx, 6, "text", "a lighthouse")
	require.NoError(t, err)
	assert.Len(t, texts, 3)
	assert.Equal(t, []any{"a lighthouse"}, p.values.Values(6, "text"), "generation must not touch the texts")

	ev := f.assistant.last()
	assert.Equal(t, assistant.EventPromptGenerate, ev.Type)
	assert.Equal(t, p.TaskID(), ev.MessageID)
	assert.Equal(t, "a lighthouse", ev.Data["input_text"])

	assert.ErrorIs(t, p.ApplyTextVariants(6, "text", []int{7}), ErrOutOfRange)
	require.NoError(t, p.ApplyTextVariants(6, "text", nil))
	require.NoError(t, p.ApplyTextVariants(6, "text", []int{0, 2}))
	assert.Equal(t, []any{"a lighthouse", "a lighthouse at dawn", "a lighthouse in a storm"}, p.values.Values(6, "text"))

	ev = f.assistant.last()
	assert.Equal(t, assistant.EventPromptApply, ev.Type)
	assert.Equal(t, []string{"a lighthouse at dawn", "a lighthouse in a storm"}, ev.Data["selected_texts"])

	// Variants are consumed by the apply.
	assert.ErrorIs(t, p.ApplyTextVariants(6, "text", []int{1}), ErrNoVariants)

	_, err = p.GenerateTextVariants(ctx, 3, "steps", "x")
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestPanel_TextVariantsFailure(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel
	f.assistant.err = errors.New("rate limited")

	_, err := p.ToggleParam("text")
	require.NoError(t, err)
	require.NoError(t, p.Next())

	_, err = p.GenerateTextVariants(context.Background(), 6, "text", "x")
	require.ErrorIs(t, err, ErrVariantGeneration)
	assert.True(t, IsUserFacing(err))
	assert.Contains(t, p.State().Error, "rate limited")
	assert.Empty(t, f.assistant.eventTypes())

	noAssistant := New(f.host, Options{Clock: f.clock})
	defer noAssistant.Close()
	_, err = noAssistant.ToggleParam("text")
	require.NoError(t, err)
	require.NoError(t, noAssistant.Next())
	_, err = noAssistant.GenerateTextVariants(context.Background(), 6, "text", "x")
	assert.ErrorIs(t, err, ErrAssistantUnavailable)
}

func TestPanel_StartRequiresSingleOutputNode(t *testing.T) {
	g := testGraph()
	g.Nodes = append(g.Nodes, comfy.GraphNode{ID: 10, Type: "PreviewImage"})
	f := newFixture(t, g)
	p := f.panel
	f.configure(t)

	_, err := p.Start(0)
	require.ErrorIs(t, err, sweep.ErrNoOutputNode)
	assert.Equal(t, ScreenConfirmation, p.Screen())
	assert.Equal(t, sweep.ErrNoOutputNode.Error(), p.State().Error)
	assert.Empty(t, f.host.submissions())

	_, err = p.Start(404)
	assert.ErrorIs(t, err, sweep.ErrNoOutputNode)

	_, err = p.Start(10)
	require.NoError(t, err)
	p.Wait()
	assert.Equal(t, 10, p.State().Session.OutputNodeID)
	assert.Empty(t, p.State().Error)
}

func TestPanel_Close(t *testing.T) {
	f := newFixture(t, testGraph())
	p := f.panel
	f.configure(t)
	_, err := p.Start(0)
	require.NoError(t, err)
	p.Wait()
	require.Equal(t, 1, f.clock.PendingTimers())

	taskID := p.TaskID()
	p.Close()

	assert.Equal(t, 0, f.clock.PendingTimers(), "close left a poll timer")
	st := p.State()
	assert.Equal(t, ScreenParameterPick, st.Screen)
	assert.Nil(t, st.Session)
	assert.Equal(t, []string{"steps", "cfg", "sampler_name"}, st.SelectedParams)
	assert.NotEqual(t, taskID, st.TaskID)

	var saved map[string]any
	ok, err := store.NewSnapshotStore(f.db.DB).Load(store.PanelSnapshotKey, &saved)
	require.NoError(t, err)
	assert.False(t, ok, "close must delete the saved panel")
}
