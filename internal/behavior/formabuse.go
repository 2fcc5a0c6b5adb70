// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package behavior

import (
	"math"
	"strings"
	"time"
)

// Form-interaction flags raised for automation signatures.
const (
	FlagSuperhumanTyping  = "SUPERHUMAN_TYPING_SPEED"
	FlagRoboticTyping     = "ROBOTIC_TYPING_PATTERN"
	FlagNoMouse           = "NO_MOUSE_INTERACTION"
	FlagNoCorrections     = "NO_CORRECTIONS"
	FlagInstantCompletion = "INSTANT_COMPLETION"
	FlagNoNaturalPauses   = "NO_NATURAL_PAUSES"
)

// Recommendations ordered by severity of the suspicion score.
const (
	RecommendBlock   = "BLOCK_IMMEDIATELY"
	RecommendVerify  = "REQUIRE_ADDITIONAL_VERIFICATION"
	RecommendMonitor = "MONITOR_CLOSELY"
	RecommendAllow   = "ALLOW"
)

// FormSignals is client-side interaction telemetry captured during a form
// submission. Speeds are characters per second, ratios are fractions of
// keystrokes, and MouseActivity is normalized movement in [0,1].
type FormSignals struct {
	AvgTypingSpeed    float64       `json:"avg_typing_speed"`
	TypingConsistency float64       `json:"typing_consistency"`
	HasMouseMovement  bool          `json:"has_mouse_movement"`
	MouseActivity     float64       `json:"mouse_activity"`
	CompletionTime    time.Duration `json:"completion_time"`
	BackspaceRatio    float64       `json:"backspace_ratio"`
	PauseCount        int           `json:"pause_count"`
	AvgPauseDuration  time.Duration `json:"avg_pause_duration"`
	JSDisabled        bool          `json:"js_disabled"`
	UserAgent         string        `json:"user_agent,omitempty"`
}

// FormWeights holds the per-signal weights of the form-abuse scorer.
type FormWeights struct {
	TypingSpeed    float64 `koanf:"typing_speed"`
	MouseMovement  float64 `koanf:"mouse_movement"`
	CompletionTime float64 `koanf:"completion_time"`
	ErrorRate      float64 `koanf:"error_rate"`
	PausePatterns  float64 `koanf:"pause_patterns"`
}

// FormConfig holds form-abuse scorer tuning.
type FormConfig struct {
	Weights FormWeights `koanf:"weights"`

	// Threshold is the suspicion score at or above which a submission is
	// flagged as automated.
	Threshold float64 `koanf:"threshold"`

	// TypingSpeedLimit is the characters-per-second rate beyond which typing
	// counts against the submission. Mobile agents get the higher limit.
	TypingSpeedLimit       float64 `koanf:"typing_speed_limit"`
	MobileTypingSpeedLimit float64 `koanf:"mobile_typing_speed_limit"`
}

// DefaultFormConfig returns the default form-abuse scorer configuration.
func DefaultFormConfig() FormConfig {
	return FormConfig{
		Weights: FormWeights{
			TypingSpeed:    0.3,
			MouseMovement:  0.25,
			CompletionTime: 0.2,
			ErrorRate:      0.15,
			PausePatterns:  0.1,
		},
		Threshold:              0.7,
		TypingSpeedLimit:       12,
		MobileTypingSpeedLimit: 15,
	}
}

// FormAnalysis is the verdict on one form submission.
type FormAnalysis struct {
	Score          float64   `json:"score"`
	Suspicious     bool      `json:"suspicious"`
	Flags          []string  `json:"flags"`
	Recommendation string    `json:"recommendation"`
	Timestamp      time.Time `json:"timestamp"`
}

// FormAnalyzer scores form-interaction telemetry for automation signatures.
// Scoring is pure; identical signals always produce identical analyses.
type FormAnalyzer struct {
	cfg FormConfig
}

// NewFormAnalyzer creates a form-abuse analyzer.
func NewFormAnalyzer(cfg FormConfig) *FormAnalyzer {
	def := DefaultFormConfig()
	if cfg.Weights == (FormWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.TypingSpeedLimit <= 0 {
		cfg.TypingSpeedLimit = def.TypingSpeedLimit
	}
	if cfg.MobileTypingSpeedLimit <= 0 {
		cfg.MobileTypingSpeedLimit = def.MobileTypingSpeedLimit
	}
	return &FormAnalyzer{cfg: cfg}
}

// Analyze scores one submission. Each weighted signal contributes its full
// weight when its heuristic trips; a disabled JavaScript runtime adds a flat
// penalty on top. The total is capped at 1.0.
func (a *FormAnalyzer) Analyze(sig FormSignals) FormAnalysis {
	w := a.cfg.Weights
	score := 0.0
	var flags []string

	speedLimit := a.cfg.TypingSpeedLimit
	if isMobileAgent(sig.UserAgent) {
		speedLimit = a.cfg.MobileTypingSpeedLimit
	}
	if sig.AvgTypingSpeed > speedLimit || sig.TypingConsistency > 0.9 {
		score += w.TypingSpeed
	}

	if !sig.HasMouseMovement || sig.MouseActivity < 0.1 {
		score += w.MouseMovement
	}

	if sig.CompletionTime < 5*time.Second {
		score += w.CompletionTime
	}

	if sig.BackspaceRatio < 0.02 {
		score += w.ErrorRate
	}

	if sig.PauseCount < 2 || sig.AvgPauseDuration < 200*time.Millisecond {
		score += w.PausePatterns
	}

	if sig.JSDisabled {
		score += 0.3
	}

	score = clamp01(score)

	if sig.AvgTypingSpeed > 15 {
		flags = append(flags, FlagSuperhumanTyping)
	}
	if sig.TypingConsistency > 0.95 {
		flags = append(flags, FlagRoboticTyping)
	}
	if !sig.HasMouseMovement {
		flags = append(flags, FlagNoMouse)
	}
	if sig.BackspaceRatio < 0.01 {
		flags = append(flags, FlagNoCorrections)
	}
	if sig.CompletionTime < 3*time.Second {
		flags = append(flags, FlagInstantCompletion)
	}
	if sig.PauseCount == 0 {
		flags = append(flags, FlagNoNaturalPauses)
	}

	return FormAnalysis{
		Score:          score,
		Suspicious:     score >= a.cfg.Threshold,
		Flags:          flags,
		Recommendation: recommendationFor(score),
		Timestamp:      time.Now(),
	}
}

func recommendationFor(score float64) string {
	switch {
	case score >= 0.9:
		return RecommendBlock
	case score >= 0.7:
		return RecommendVerify
	case score >= 0.5:
		return RecommendMonitor
	default:
		return RecommendAllow
	}
}

func isMobileAgent(ua string) bool {
	return strings.Contains(ua, "Mobile") || strings.Contains(ua, "Android") || strings.Contains(ua, "iPhone")
}

// TypingConsistencyFromIntervals derives a consistency value in [0,1] from
// raw keystroke intervals. Perfectly even intervals score 1; human typing has
// enough jitter to land well below. Fewer than two intervals score 0.
func TypingConsistencyFromIntervals(intervals []time.Duration) float64 {
	if len(intervals) < 2 {
		return 0
	}

	mean := 0.0
	for _, iv := range intervals {
		mean += float64(iv)
	}
	mean /= float64(len(intervals))
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, iv := range intervals {
		d := float64(iv) - mean
		variance += d * d
	}
	variance /= float64(len(intervals))

	return clamp01(1 - math.Sqrt(variance)/mean)
}
