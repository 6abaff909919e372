package genlab

import "strconv"

// Screen is a step of the panel workflow.
type Screen int

const (
	ScreenParameterPick Screen = iota
	ScreenValueConfiguration
	ScreenConfirmation
	ScreenProcessing
	ScreenResultGallery
)

var screenNames = [...]string{
	ScreenParameterPick:      "parameter_pick",
	ScreenValueConfiguration: "value_configuration",
	ScreenConfirmation:       "confirmation",
	ScreenProcessing:         "processing",
	ScreenResultGallery:      "result_gallery",
}

func (s Screen) String() string {
	if s >= 0 && int(s) < len(screenNames) {
		return screenNames[s]
	}
	return "screen(" + strconv.Itoa(int(s)) + ")"
}
