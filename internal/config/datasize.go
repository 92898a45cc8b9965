package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// dataSizePattern accepts a non-negative number followed by a data unit,
// such as "0 B", "512 KB" or "1.5 GB". The space is optional.
var dataSizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([kKmMgGtT]?[bB])$`)

var dataSizeMultipliers = map[string]float64{
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
	"tb": 1 << 40,
}

// ParseDataSize converts a human-readable data size such as "10 MB" into a
// byte count. Supported units are B, KB, MB, GB and TB.
func ParseDataSize(s string) (int64, error) {
	match := dataSizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return 0, fmt.Errorf("%q must be of format <size> <unit> where <size> is a non-negative number and <unit> is one of B, KB, MB, GB, TB", s)
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}

	return int64(value * dataSizeMultipliers[strings.ToLower(match[2])]), nil
}
