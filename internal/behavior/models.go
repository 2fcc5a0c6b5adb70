// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package behavior

import (
	"strings"
	"time"
)

// The six sub-models score one activity against a profile's learned
// baseline. Each returns a value in [0,1]. All are evaluated with the
// profile lock held and must not block.

// suspiciousAgents are user-agent substrings typical of automation.
var suspiciousAgents = []string{"curl", "wget", "python", "bot", "crawler", "scanner"}

// scoreTemporal penalizes small-hours activity and hour/day combinations
// that are statistically rare for the entity.
func scoreTemporal(p *profile, act Activity) float64 {
	hour := act.Timestamp.Hour()
	day := int(act.Timestamp.Weekday())

	score := 0.0
	if hour >= 0 && hour <= 5 {
		score += 0.3
	}

	hourlyTotal := 0
	for _, c := range p.baseline.hours {
		hourlyTotal += c
	}
	if hourlyTotal > 0 && float64(p.baseline.hours[hour])/float64(hourlyTotal) < 0.05 {
		score += 0.4
	}

	dailyTotal := 0
	for _, c := range p.baseline.days {
		dailyTotal += c
	}
	if dailyTotal > 0 && float64(p.baseline.days[day])/float64(dailyTotal) < 0.1 {
		score += 0.3
	}

	return clamp01(score)
}

// scoreGeolocation penalizes unseen or rare countries and cities. Private
// addresses are discounted by half.
func scoreGeolocation(p *profile, act Activity) float64 {
	if act.Source == "" {
		return 0
	}

	loc := locationFromIP(act.Source)
	score := 0.0

	if freq, seen := p.baseline.countries[loc.Country]; !seen {
		score += 0.6
	} else if freq < 5 {
		score += 0.3
	}

	if _, seen := p.baseline.cities[loc.City]; !seen {
		score += 0.4
	}

	if isPrivateIP(act.Source) {
		score *= 0.5
	}

	return clamp01(score)
}

// scoreResource penalizes unseen or rare paths, non-GET methods, and
// administrative or API paths.
func scoreResource(p *profile, act Activity) float64 {
	method := act.Method
	if method == "" {
		method = "GET"
	}

	score := 0.0
	if freq, seen := p.baseline.paths[act.Path]; !seen {
		score += 0.4
	} else if freq < 3 {
		score += 0.2
	}

	if method != "GET" {
		score += 0.3
	}

	if strings.Contains(act.Path, "/admin") || strings.Contains(act.Path, "/api") {
		score += 0.2
	}

	return clamp01(score)
}

// scoreVolume penalizes hourly counts well above the learned average and
// short bursts. The activity timestamp anchors the windows so scoring is
// reproducible for a given history.
func scoreVolume(p *profile, act Activity) float64 {
	now := act.Timestamp
	hourStart := now.Truncate(time.Hour)

	recentHour := 0
	last5min := 0
	cutoff := now.Add(-5 * time.Minute)
	for _, a := range p.activities {
		if !a.Timestamp.Before(hourStart) && !a.Timestamp.After(now) {
			recentHour++
		}
		if !a.Timestamp.Before(cutoff) && !a.Timestamp.After(now) {
			last5min++
		}
	}

	avgHourly := 1.0
	if len(p.baseline.hourlyCounts) > 0 {
		total := 0
		for _, c := range p.baseline.hourlyCounts {
			total += c
		}
		avgHourly = float64(total) / float64(len(p.baseline.hourlyCounts))
	}

	score := 0.0
	switch {
	case float64(recentHour) > avgHourly*3:
		score += 0.6
	case float64(recentHour) > avgHourly*2:
		score += 0.3
	}

	if last5min > 10 {
		score += 0.4
	}

	return clamp01(score)
}

// scoreDevice penalizes unseen user agents and source addresses, plus
// recognizably automated agents.
func scoreDevice(p *profile, act Activity) float64 {
	score := 0.0

	if act.UserAgent != "" {
		if _, seen := p.baseline.userAgents[act.UserAgent]; !seen {
			score += 0.5
		}
	}
	if act.Source != "" {
		if _, seen := p.baseline.sources[act.Source]; !seen {
			score += 0.3
		}
	}

	ua := strings.ToLower(act.UserAgent)
	for _, marker := range suspiciousAgents {
		if strings.Contains(ua, marker) {
			score += 0.4
			break
		}
	}

	return clamp01(score)
}

// scoreSequence inspects the last five activities (including the current
// one) for failure streaks, sensitive-path streaks, and not-found streaks.
func scoreSequence(p *profile, _ Activity) float64 {
	recent := p.activities
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	authFailures, sensitive, notFound := 0, 0, 0
	for _, a := range recent {
		if a.Type == "auth_failure" || strings.Contains(a.Message, "failed") {
			authFailures++
		}
		if strings.Contains(a.Path, "/admin") || strings.Contains(a.Path, "/api") {
			sensitive++
		}
		if a.Status == 404 || strings.Contains(a.Message, "404") {
			notFound++
		}
	}

	score := 0.0
	if authFailures >= 3 {
		score += 0.6
	}
	if sensitive >= 3 {
		score += 0.4
	}
	if notFound >= 4 {
		score += 0.5
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}
