// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package behavior

import (
	"slices"
	"testing"
	"time"
)

// humanSignals trips none of the heuristics.
func humanSignals() FormSignals {
	return FormSignals{
		AvgTypingSpeed:    5,
		TypingConsistency: 0.4,
		HasMouseMovement:  true,
		MouseActivity:     0.6,
		CompletionTime:    30 * time.Second,
		BackspaceRatio:    0.05,
		PauseCount:        5,
		AvgPauseDuration:  500 * time.Millisecond,
	}
}

func TestAutomatedSubmissionFlagged(t *testing.T) {
	a := NewFormAnalyzer(DefaultFormConfig())

	sig := humanSignals()
	sig.AvgTypingSpeed = 20
	sig.HasMouseMovement = false
	sig.MouseActivity = 0
	sig.CompletionTime = 2 * time.Second

	result := a.Analyze(sig)

	// Typing, mouse, and completion weights: 0.3 + 0.25 + 0.2.
	if result.Score < 0.74 || result.Score > 0.76 {
		t.Errorf("Score = %.2f, want 0.75", result.Score)
	}
	if !result.Suspicious {
		t.Error("submission not flagged as suspicious")
	}
	if result.Recommendation != RecommendVerify {
		t.Errorf("Recommendation = %q, want %q", result.Recommendation, RecommendVerify)
	}

	for _, want := range []string{FlagSuperhumanTyping, FlagNoMouse, FlagInstantCompletion} {
		if !slices.Contains(result.Flags, want) {
			t.Errorf("missing flag %q in %v", want, result.Flags)
		}
	}
}

func TestHumanSubmissionAllowed(t *testing.T) {
	a := NewFormAnalyzer(DefaultFormConfig())

	result := a.Analyze(humanSignals())
	if result.Score != 0 {
		t.Errorf("Score = %.2f, want 0", result.Score)
	}
	if result.Suspicious {
		t.Error("human submission flagged as suspicious")
	}
	if result.Recommendation != RecommendAllow {
		t.Errorf("Recommendation = %q, want %q", result.Recommendation, RecommendAllow)
	}
	if len(result.Flags) != 0 {
		t.Errorf("unexpected flags %v", result.Flags)
	}
}

func TestDisabledJavaScriptPenalty(t *testing.T) {
	a := NewFormAnalyzer(DefaultFormConfig())

	sig := humanSignals()
	sig.JSDisabled = true

	result := a.Analyze(sig)
	if result.Score < 0.29 || result.Score > 0.31 {
		t.Errorf("Score = %.2f, want 0.3", result.Score)
	}
	if result.Suspicious {
		t.Error("disabled JavaScript alone crossed the threshold")
	}
}

func TestMobileTypingTolerance(t *testing.T) {
	a := NewFormAnalyzer(DefaultFormConfig())

	sig := humanSignals()
	sig.AvgTypingSpeed = 13

	desktop := a.Analyze(sig)
	if desktop.Score < 0.29 || desktop.Score > 0.31 {
		t.Errorf("desktop Score = %.2f, want 0.3", desktop.Score)
	}

	// Predictive keyboards raise the mobile limit to 15 chars/sec.
	sig.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 18_0 like Mac OS X)"
	mobile := a.Analyze(sig)
	if mobile.Score != 0 {
		t.Errorf("mobile Score = %.2f, want 0", mobile.Score)
	}
}

func TestRoboticTypingConsistencyTripsTypingWeight(t *testing.T) {
	a := NewFormAnalyzer(DefaultFormConfig())

	sig := humanSignals()
	sig.TypingConsistency = 0.97

	result := a.Analyze(sig)
	if result.Score < 0.29 || result.Score > 0.31 {
		t.Errorf("Score = %.2f, want 0.3", result.Score)
	}
	if !slices.Contains(result.Flags, FlagRoboticTyping) {
		t.Errorf("missing %q flag in %v", FlagRoboticTyping, result.Flags)
	}
}

func TestEveryHeuristicCapsAtOne(t *testing.T) {
	a := NewFormAnalyzer(DefaultFormConfig())

	result := a.Analyze(FormSignals{
		AvgTypingSpeed:    30,
		TypingConsistency: 0.99,
		HasMouseMovement:  false,
		CompletionTime:    time.Second,
		BackspaceRatio:    0,
		PauseCount:        0,
		JSDisabled:        true,
	})

	if result.Score != 1.0 {
		t.Errorf("Score = %.2f, want 1.0", result.Score)
	}
	if result.Recommendation != RecommendBlock {
		t.Errorf("Recommendation = %q, want %q", result.Recommendation, RecommendBlock)
	}
	for _, want := range []string{
		FlagSuperhumanTyping, FlagRoboticTyping, FlagNoMouse,
		FlagNoCorrections, FlagInstantCompletion, FlagNoNaturalPauses,
	} {
		if !slices.Contains(result.Flags, want) {
			t.Errorf("missing flag %q in %v", want, result.Flags)
		}
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := NewFormAnalyzer(DefaultFormConfig())

	sig := humanSignals()
	sig.AvgTypingSpeed = 20
	sig.HasMouseMovement = false

	first := a.Analyze(sig)
	second := a.Analyze(sig)
	if first.Score != second.Score {
		t.Errorf("identical signals scored %.4f then %.4f", first.Score, second.Score)
	}
	if !slices.Equal(first.Flags, second.Flags) {
		t.Errorf("identical signals flagged %v then %v", first.Flags, second.Flags)
	}
}

func TestTypingConsistencyFromIntervals(t *testing.T) {
	if got := TypingConsistencyFromIntervals(nil); got != 0 {
		t.Errorf("no intervals = %.2f, want 0", got)
	}
	if got := TypingConsistencyFromIntervals([]time.Duration{time.Second}); got != 0 {
		t.Errorf("single interval = %.2f, want 0", got)
	}

	even := []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}
	if got := TypingConsistencyFromIntervals(even); got != 1 {
		t.Errorf("perfectly even intervals = %.2f, want 1", got)
	}

	jittery := []time.Duration{80 * time.Millisecond, 210 * time.Millisecond, 95 * time.Millisecond, 400 * time.Millisecond}
	if got := TypingConsistencyFromIntervals(jittery); got >= 0.9 {
		t.Errorf("jittery intervals = %.2f, want < 0.9", got)
	}
}
