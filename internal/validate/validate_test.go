package validate

import (
	"slices"
	"testing"

	"github.com/docground/docground/pkg/types"
)

func sourced(confidence float64) types.Step {
	return types.Step{
		Confidence: confidence,
		Sources:    []types.SourceReference{{Kind: types.KindTranscript, MatchScore: confidence}},
	}
}

func TestValidate_HighConfidenceAccepted(t *testing.T) {
	v := New(0, 0)
	got := v.Validate(sourced(0.75))
	if !got.Accepted {
		t.Fatal("step with confidence 0.75 should be accepted")
	}
	if slices.Contains(got.Flags, FlagRelaxedAccept) {
		t.Fatal("plain accept must not carry the relaxed flag")
	}
}

func TestValidate_RelaxedAcceptNeedsSources(t *testing.T) {
	v := New(0, 0)

	withSources := v.Validate(sourced(0.5))
	if !withSources.Accepted {
		t.Fatal("0.5 with sources should pass the relaxed threshold")
	}
	if !slices.Contains(withSources.Flags, FlagRelaxedAccept) {
		t.Fatalf("relaxed accept should be flagged, got %v", withSources.Flags)
	}

	withoutSources := v.Validate(types.Step{Confidence: 0.5})
	if withoutSources.Accepted {
		t.Fatal("0.5 without sources must be rejected")
	}
}

func TestValidate_RejectedKeepsFlags(t *testing.T) {
	v := New(0, 0)
	got := v.Validate(types.Step{Confidence: 0.1})
	if got.Accepted {
		t.Fatal("0.1 should be rejected")
	}
	if !slices.Contains(got.Flags, FlagLowConfidence) {
		t.Fatalf("want low_confidence flag, got %v", got.Flags)
	}
	if !slices.Contains(got.Flags, FlagNoSources) {
		t.Fatalf("want no_sources flag, got %v", got.Flags)
	}
}

func TestValidate_FlagsNeverNil(t *testing.T) {
	v := New(0, 0)
	if got := v.Validate(sourced(0.9)); got.Flags == nil {
		t.Fatal("Flags must not be nil after validation")
	}
}

func TestNew_SwapsInvertedThresholds(t *testing.T) {
	v := New(0.4, 0.7)
	if !v.Validate(sourced(0.75)).Accepted {
		t.Fatal("0.75 should be accepted after threshold swap")
	}
	if v.Validate(types.Step{Confidence: 0.5}).Accepted {
		t.Fatal("0.5 without sources should be rejected after swap")
	}
}

func TestValidateAll_SplitsAccepted(t *testing.T) {
	v := New(0, 0)
	steps := []types.Step{sourced(0.9), types.Step{Confidence: 0.1}, sourced(0.5)}
	validated, accepted := v.ValidateAll(steps)
	if len(validated) != 3 {
		t.Fatalf("validated %d steps, want 3", len(validated))
	}
	if len(accepted) != 2 {
		t.Fatalf("accepted %d steps, want 2", len(accepted))
	}
}

func TestValidateAll_AllRejectedIsNotFatal(t *testing.T) {
	v := New(0, 0)
	validated, accepted := v.ValidateAll([]types.Step{{Confidence: 0.1}, {Confidence: 0.2}})
	if len(validated) != 2 {
		t.Fatalf("validated %d steps, want 2", len(validated))
	}
	if len(accepted) != 0 {
		t.Fatalf("accepted %d steps, want 0", len(accepted))
	}
}
