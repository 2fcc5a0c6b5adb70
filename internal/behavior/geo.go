// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package behavior

import (
	"strconv"
	"strings"
)

// location is a coarse geographic position derived from a source address.
type location struct {
	Country string
	City    string
}

// locationFromIP derives a simulated location from the first octet of an
// IPv4 address. A real GeoIP resolver can replace this without touching the
// scoring model; the geolocation sub-model only consumes country and city.
func locationFromIP(ip string) location {
	if isPrivateIP(ip) {
		return location{Country: "Local", City: "Private Network"}
	}

	octet, _, ok := strings.Cut(ip, ".")
	first, err := strconv.Atoi(octet)
	if !ok || err != nil {
		return location{Country: "Unknown", City: "Unknown"}
	}

	switch {
	case first >= 1 && first <= 50:
		return location{Country: "United States", City: "New York"}
	case first >= 51 && first <= 100:
		return location{Country: "Brazil", City: "São Paulo"}
	case first >= 101 && first <= 150:
		return location{Country: "Germany", City: "Berlin"}
	default:
		return location{Country: "Unknown", City: "Unknown"}
	}
}

// isPrivateIP reports whether ip falls in RFC 1918 space or loopback.
func isPrivateIP(ip string) bool {
	if strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "127.") {
		return true
	}
	if rest, ok := strings.CutPrefix(ip, "172."); ok {
		octet, _, found := strings.Cut(rest, ".")
		if !found {
			return false
		}
		n, err := strconv.Atoi(octet)
		return err == nil && n >= 16 && n <= 31
	}
	return false
}
