package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
	TiB int64 = 1 << 40
	PiB int64 = 1 << 50
)

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)

// Decimal suffixes are 1000-based. Single letters and the IEC "iB" forms are 1024-based.
var unitMultipliers = map[string]int64{
	"B": 1, "BYTE": 1, "BYTES": 1,
	"KB": 1e3, "MB": 1e6, "GB": 1e9, "TB": 1e12, "PB": 1e15,
	"K": KiB, "KIB": KiB,
	"M": MiB, "MIB": MiB,
	"G": GiB, "GIB": GiB,
	"T": TiB, "TIB": TiB,
	"P": PiB, "PIB": PiB,
}

// ParseDataSize turns strings such as "64MiB", "1.5GB" or "4096" into a byte count.
func ParseDataSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		if val < 0 {
			return 0, fmt.Errorf("negative size: %s", sizeStr)
		}
		return val, nil
	}

	matches := sizePattern.FindStringSubmatch(sizeStr)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '64MiB', '512MB', '1.5TB')", sizeStr)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", matches[1])
	}

	multiplier, ok := unitMultipliers[strings.ToUpper(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s", matches[2])
	}

	bytes := int64(value * float64(multiplier))
	if bytes < 0 {
		return 0, fmt.Errorf("size overflow: %s", sizeStr)
	}
	return bytes, nil
}

// FormatDataSize renders a byte count with binary units, e.g. "22 MiB" or "1.5 GiB".
func FormatDataSize(bytes int64) string {
	if bytes < 0 {
		return "invalid"
	}
	if bytes < KiB {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	div, exp := KiB, 0
	for n := bytes / KiB; n >= KiB && exp < len(units)-1; n /= KiB {
		div *= KiB
		exp++
	}

	value := float64(bytes) / float64(div)
	switch {
	case value == float64(int64(value)):
		return fmt.Sprintf("%.0f %s", value, units[exp])
	case value*10 == float64(int64(value*10)):
		return fmt.Sprintf("%.1f %s", value, units[exp])
	}
	return fmt.Sprintf("%.2f %s", value, units[exp])
}
