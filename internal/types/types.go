package types

import (
	"math"
	"strconv"
)

// AnalysisRecord is the scorer's verdict for one tab. At most one record
// exists per live tab; it is overwritten whole on every re-analysis, never
// merged across scorer calls.
type AnalysisRecord struct {
	TabID      int      `json:"tabId,omitempty"`
	URL        string   `json:"url"`
	RiskScore  float64  `json:"risk_score"`
	Reasons    []string `json:"reasons"`
	Highlights []string `json:"highlights"`
	Meta       Meta     `json:"meta"`
}

// Meta carries optional scorer metadata.
type Meta struct {
	Domain string  `json:"domain,omitempty"`
	TS     float64 `json:"ts,omitempty"`
}

// Tier is the three-band discretization of a risk score, shared by the
// badge and the in-page banner.
type Tier int

const (
	TierSafe Tier = iota
	TierWarning
	TierDanger
)

// Badge and banner colors per tier, matching the extension palette.
const (
	ColorSafe    = "#43a047"
	ColorWarning = "#fb8c00"
	ColorDanger  = "#e53935"
)

// Pct converts a risk score in [0,1] to a rounded percentage.
func Pct(score float64) int {
	return int(math.Round(score * 100))
}

// TierFor maps a risk score to its tier: rounded pct >= 80 is danger,
// 50-79 is warning, below 50 is safe.
func TierFor(score float64) Tier {
	pct := Pct(score)
	switch {
	case pct >= 80:
		return TierDanger
	case pct >= 50:
		return TierWarning
	default:
		return TierSafe
	}
}

// Color returns the tier's badge color.
func (t Tier) Color() string {
	switch t {
	case TierDanger:
		return ColorDanger
	case TierWarning:
		return ColorWarning
	default:
		return ColorSafe
	}
}

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierDanger:
		return "danger"
	case TierWarning:
		return "warning"
	default:
		return "safe"
	}
}

// BadgeText is the badge label for a score: the rounded percentage.
func BadgeText(score float64) string {
	return strconv.Itoa(Pct(score))
}
