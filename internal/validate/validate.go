// Package validate applies the acceptance policy to scored steps.
//
// A step is accepted when its confidence clears the accept threshold, or when
// it clears the lower relaxed threshold while carrying at least one source
// reference. Rejected steps are kept with explanatory flags so callers can
// audit why a step did not make the cut.
package validate

import (
	"fmt"
	"log/slog"

	"github.com/docground/docground/pkg/types"
)

// Default acceptance thresholds. Both are provisional calibration values and
// overridable via config.
const (
	DefaultAcceptThreshold  = 0.6
	DefaultRelaxedThreshold = 0.45
)

// Flags attached to steps during validation.
const (
	FlagLowConfidence = "low_confidence"
	FlagNoSources     = "no_sources"
	FlagRelaxedAccept = "relaxed_accept"
)

// Validator decides step acceptance. The zero value is not usable; construct
// with New.
type Validator struct {
	acceptThreshold  float64
	relaxedThreshold float64
}

// New creates a Validator. Non-positive thresholds fall back to the defaults;
// if relaxed exceeds accept the two are swapped so the policy stays monotone.
func New(acceptThreshold, relaxedThreshold float64) *Validator {
	if acceptThreshold <= 0 {
		acceptThreshold = DefaultAcceptThreshold
	}
	if relaxedThreshold <= 0 {
		relaxedThreshold = DefaultRelaxedThreshold
	}
	if relaxedThreshold > acceptThreshold {
		acceptThreshold, relaxedThreshold = relaxedThreshold, acceptThreshold
	}
	return &Validator{
		acceptThreshold:  acceptThreshold,
		relaxedThreshold: relaxedThreshold,
	}
}

// Validate applies the acceptance policy to a scored step, setting Accepted
// and appending explanatory flags. Validate is the final mutation of a step.
func (v *Validator) Validate(step types.Step) types.Step {
	if step.Flags == nil {
		step.Flags = []string{}
	}

	switch {
	case step.Confidence >= v.acceptThreshold:
		step.Accepted = true

	case step.Confidence >= v.relaxedThreshold && len(step.Sources) > 0:
		step.Accepted = true
		step.Flags = append(step.Flags, FlagRelaxedAccept)

	default:
		step.Accepted = false
		step.Flags = append(step.Flags, FlagLowConfidence)
		if len(step.Sources) == 0 {
			step.Flags = append(step.Flags, FlagNoSources)
		}
		slog.Debug("step rejected",
			"segment", step.Draft.SegmentIndex,
			"confidence", fmt.Sprintf("%.2f", step.Confidence),
			"sources", len(step.Sources))
	}
	return step
}

// ValidateAll validates every step and returns the validated steps together
// with the accepted subset. An all-rejected outcome is not an error; the
// caller decides how to surface it.
func (v *Validator) ValidateAll(steps []types.Step) (validated []types.Step, accepted []types.Step) {
	validated = make([]types.Step, 0, len(steps))
	for _, s := range steps {
		s = v.Validate(s)
		validated = append(validated, s)
		if s.Accepted {
			accepted = append(accepted, s)
		}
	}
	if len(validated) > 0 && len(accepted) == 0 {
		slog.Warn("all generated steps were rejected",
			"steps", len(validated),
			"accept_threshold", v.acceptThreshold,
			"relaxed_threshold", v.relaxedThreshold)
	}
	return validated, accepted
}
