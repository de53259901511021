package contract

import "strings"

// SupportedAspectRatios lists the ratios the image service accepts.
var SupportedAspectRatios = []string{"1:1", "4:5", "5:4", "3:4", "4:3", "9:16", "16:9", "21:9", "9:21"}

// IsSupportedAspectRatio reports whether v is one of SupportedAspectRatios.
func IsSupportedAspectRatio(v string) bool {
	for _, r := range SupportedAspectRatios {
		if r == v {
			return true
		}
	}
	return false
}

// NormalizeAspectRatio returns v trimmed if supported, otherwise fallback.
// Unrecognized values are never an error.
func NormalizeAspectRatio(v, fallback string) string {
	if clean := strings.TrimSpace(v); IsSupportedAspectRatio(clean) {
		return clean
	}
	return fallback
}

// Defaults are the values normalization falls back to.
type Defaults struct {
	AspectRatio string `yaml:"aspect_ratio"`
	Style       string `yaml:"style"`
	Quality     string `yaml:"quality"`
}

// DefaultDefaults returns the stock normalization defaults.
func DefaultDefaults() Defaults {
	return Defaults{AspectRatio: "4:5", Style: "cinematic-premium", Quality: "premium"}
}

func (d Defaults) withFallbacks() Defaults {
	std := DefaultDefaults()
	if d.AspectRatio == "" {
		d.AspectRatio = std.AspectRatio
	}
	if d.Style == "" {
		d.Style = std.Style
	}
	if d.Quality == "" {
		d.Quality = std.Quality
	}
	return d
}
