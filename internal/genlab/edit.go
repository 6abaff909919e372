package genlab

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/banshee-data/genlab/internal/assistant"
	"github.com/banshee-data/genlab/internal/sweep"
)

// editableLocked resolves a (node, param) pair being edited on the value
// configuration screen to its live widget and kind.
func (p *Panel) editableLocked(op string, nodeID int, param string) (sweep.Widget, sweep.ParamKind, error) {
	if p.screen != ScreenValueConfiguration {
		return sweep.Widget{}, "", wrongScreen(op, p.screen)
	}
	if !lo.Contains(p.nodes, nodeID) {
		return sweep.Widget{}, "", ErrUnknownNode
	}
	if !lo.Contains(p.selectedParams, param) {
		return sweep.Widget{}, "", ErrUnknownParam
	}
	node, ok := p.host.LookupNode(nodeID)
	if !ok {
		return sweep.Widget{}, "", fmt.Errorf("%w: node %d no longer exists", ErrUnknownNode, nodeID)
	}
	w, ok := node.Widget(param)
	if !ok {
		return sweep.Widget{}, "", fmt.Errorf("%w: node %d has no widget %q", ErrUnknownParam, nodeID, param)
	}
	kind, ok := sweep.KindOf(w.Type)
	if !ok {
		return sweep.Widget{}, "", fmt.Errorf("%w: widget %q (%s) cannot be swept", ErrWrongKind, param, w.Type)
	}
	return w, kind, nil
}

// edit runs fn on the value set after validating the pair, then persists.
func (p *Panel) edit(op string, nodeID int, param string, fn func(w sweep.Widget, kind sweep.ParamKind) error) error {
	p.mu.Lock()
	w, kind, err := p.editableLocked(op, nodeID, param)
	if err == nil {
		err = fn(w, kind)
	}
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.errMsg = ""
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(snap)
	return nil
}

// SetNumericRange regenerates the candidates of a numeric parameter from r.
func (p *Panel) SetNumericRange(nodeID int, param string, r sweep.NumericRange) error {
	return p.edit("set range", nodeID, param, func(_ sweep.Widget, kind sweep.ParamKind) error {
		if kind != sweep.KindNumeric {
			return ErrWrongKind
		}
		p.ranges[sweep.ParamKey{NodeID: nodeID, ParamName: param}] = r
		p.values.SetValues(nodeID, param, r.Values())
		return nil
	})
}

// SetValues replaces the candidates of a parameter. Values are coerced to
// the parameter's kind.
func (p *Panel) SetValues(nodeID int, param string, values []any) error {
	return p.edit("set values", nodeID, param, func(_ sweep.Widget, kind sweep.ParamKind) error {
		out := make([]any, len(values))
		for i, v := range values {
			c, err := sweep.CoerceValue(v, kind)
			if err != nil {
				return fmt.Errorf("value %d: %w", i, err)
			}
			out[i] = c
		}
		delete(p.ranges, sweep.ParamKey{NodeID: nodeID, ParamName: param})
		p.values.SetValues(nodeID, param, out)
		return nil
	})
}

// ToggleValue adds or removes one candidate of an enumerated or numeric
// parameter and reports whether it is present afterwards.
func (p *Panel) ToggleValue(nodeID int, param string, v any) (bool, error) {
	var present bool
	err := p.edit("toggle value", nodeID, param, func(_ sweep.Widget, kind sweep.ParamKind) error {
		if kind == sweep.KindFreeText {
			return ErrWrongKind
		}
		c, err := sweep.CoerceValue(v, kind)
		if err != nil {
			return err
		}
		present = p.values.ToggleValue(nodeID, param, c)
		return nil
	})
	return present, err
}

// SelectAll selects every option of an enumerated parameter, or clears the
// candidates when all options are already selected.
func (p *Panel) SelectAll(nodeID int, param string) error {
	return p.edit("select all", nodeID, param, func(w sweep.Widget, kind sweep.ParamKind) error {
		if kind != sweep.KindEnumerated {
			return ErrWrongKind
		}
		universe := make([]any, len(w.Options.Values))
		for i, v := range w.Options.Values {
			universe[i], _ = sweep.CoerceValue(v, kind)
		}
		p.values.SelectAll(nodeID, param, universe)
		return nil
	})
}

func (p *Panel) editText(op string, nodeID int, param string, fn func(texts []any) ([]any, error)) error {
	return p.edit(op, nodeID, param, func(_ sweep.Widget, kind sweep.ParamKind) error {
		if kind != sweep.KindFreeText {
			return ErrWrongKind
		}
		texts, err := fn(p.values.Values(nodeID, param))
		if err != nil {
			return err
		}
		p.values.SetValues(nodeID, param, texts)
		return nil
	})
}

// SetText replaces the text at index of a free-text parameter.
func (p *Panel) SetText(nodeID int, param string, index int, text string) error {
	return p.editText("set text", nodeID, param, func(texts []any) ([]any, error) {
		if index < 0 || index >= len(texts) {
			return nil, fmt.Errorf("%w: text %d of %d", ErrOutOfRange, index, len(texts))
		}
		texts[index] = text
		return texts, nil
	})
}

// AddText appends an empty text to a free-text parameter.
func (p *Panel) AddText(nodeID int, param string) error {
	return p.editText("add text", nodeID, param, func(texts []any) ([]any, error) {
		return append(texts, ""), nil
	})
}

// RemoveText removes the text at index of a free-text parameter.
func (p *Panel) RemoveText(nodeID int, param string, index int) error {
	return p.editText("remove text", nodeID, param, func(texts []any) ([]any, error) {
		if index < 0 || index >= len(texts) {
			return nil, fmt.Errorf("%w: text %d of %d", ErrOutOfRange, index, len(texts))
		}
		return append(texts[:index], texts[index+1:]...), nil
	})
}

// GenerateTextVariants asks the assistant for variants of seed for a
// free-text parameter. The variants are kept until ApplyTextVariants picks
// from them; nothing is added to the candidates yet.
func (p *Panel) GenerateTextVariants(ctx context.Context, nodeID int, param, seed string) ([]string, error) {
	p.mu.Lock()
	_, kind, err := p.editableLocked("generate text", nodeID, param)
	if err == nil && kind != sweep.KindFreeText {
		err = ErrWrongKind
	}
	if err == nil && p.assistant == nil {
		err = p.failLocked(ErrAssistantUnavailable)
	}
	taskID := p.taskID
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	texts, err := p.assistant.GenerateTextVariants(ctx, seed)
	if err != nil {
		logf("ERROR: text variants for %d/%s: %v", nodeID, param, err)
		err = fmt.Errorf("%w: %w", ErrVariantGeneration, err)
		p.mu.Lock()
		p.failLocked(err)
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.variants[sweep.ParamKey{NodeID: nodeID, ParamName: param}] = pendingVariants{input: seed, texts: texts}
	p.mu.Unlock()

	p.track(assistant.EventPromptGenerate, taskID, map[string]any{
		"input_text":      seed,
		"generated_texts": texts,
	})
	return append([]string{}, texts...), nil
}

// ApplyTextVariants appends the generated variants at the given indices to
// the parameter's texts, after the user's own entries. An empty selection
// is a no-op.
func (p *Panel) ApplyTextVariants(nodeID int, param string, indices []int) error {
	if len(indices) == 0 {
		return nil
	}
	key := sweep.ParamKey{NodeID: nodeID, ParamName: param}
	var (
		pending  pendingVariants
		selected []string
		taskID   string
	)
	err := p.editText("apply text variants", nodeID, param, func(texts []any) ([]any, error) {
		var ok bool
		pending, ok = p.variants[key]
		if !ok {
			return nil, ErrNoVariants
		}
		for _, i := range indices {
			if i < 0 || i >= len(pending.texts) {
				return nil, fmt.Errorf("%w: variant %d of %d", ErrOutOfRange, i, len(pending.texts))
			}
			selected = append(selected, pending.texts[i])
		}
		delete(p.variants, key)
		taskID = p.taskID
		return append(texts, lo.ToAnySlice(selected)...), nil
	})
	if err != nil {
		return err
	}

	p.track(assistant.EventPromptApply, taskID, map[string]any{
		"input_text":      pending.input,
		"generated_texts": pending.texts,
		"selected_texts":  selected,
	})
	return nil
}
