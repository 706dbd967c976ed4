package risk

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Level classifies a composite risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Composite weights and level thresholds.
const (
	weightTiming      = 0.25
	weightUserAgent   = 0.25
	weightConsistency = 0.20
	weightGeographic  = 0.15
	weightNetwork     = 0.15

	thresholdMedium   = 0.30
	thresholdHigh     = 0.60
	thresholdCritical = 0.80

	// Gate thresholds applied on top of the level.
	rejectScore         = 0.9
	forceUntrustedScore = 0.7
	auditScore          = 0.5

	// Self-identified automation (keyword set and framework regex both
	// firing) short-circuits the blend to an outright reject.
	automationOverrideUA    = 0.85
	automationOverrideScore = 0.95
)

// SubScores holds the per-axis scores, each in [0,1].
type SubScores struct {
	Timing            float64 `json:"timing"`
	UserAgent         float64 `json:"user_agent"`
	HeaderConsistency float64 `json:"header_consistency"`
	Geographic        float64 `json:"geographic"`
	Network           float64 `json:"network"`
}

// Analysis is the transient risk verdict for one request. It is never
// persisted standalone; the device record snapshots it for audit.
type Analysis struct {
	Score              float64   `json:"score"`
	Level              Level     `json:"level"`
	SuspiciousPatterns []string  `json:"suspicious_patterns,omitempty"`
	SubScores          SubScores `json:"sub_scores"`
	AnalyzedAt         time.Time `json:"analyzed_at"`
}

// Reject reports whether the request must be rejected outright, before any
// device or session mutation.
func (a Analysis) Reject() bool {
	return a.Level == LevelCritical || a.Score > rejectScore
}

// ForceUntrusted reports whether the resulting device must be forced to
// untrusted regardless of the trust engine outcome.
func (a Analysis) ForceUntrusted() bool {
	return a.Score > forceUntrustedScore
}

// Audit reports whether the request warrants an audit entry even when it
// proceeds.
func (a Analysis) Audit() bool {
	return a.Score > auditScore
}

// Input carries the signals the analyzer combines.
type Input struct {
	UserAgent string

	// HeaderConsistency is the consistency score in [0,1] from the device
	// header cross-checks; higher means more consistent.
	HeaderConsistency float64

	// SinceLastAttempt is the interval since the previous attempt from the
	// same identifier. Zero means unknown.
	SinceLastAttempt time.Duration

	IPAddress string
}

// IPScorer scores an IP address in [0,1]. Geographic and network-reputation
// lookups plug in behind this interface.
type IPScorer interface {
	Score(ctx context.Context, ip string) (float64, error)
}

// StaticScorer returns a fixed score. It is the default until real
// geolocation or reputation lookups are wired in.
type StaticScorer struct {
	Value float64
}

func (s StaticScorer) Score(ctx context.Context, ip string) (float64, error) {
	return s.Value, nil
}

// DefaultStaticScore is the low fixed risk returned by default scorers.
const DefaultStaticScore = 0.1

// Analyzer combines timing, user-agent, header-consistency, geographic and
// network sub-scores into one composite verdict.
type Analyzer struct {
	geo     IPScorer
	network IPScorer
}

// NewAnalyzer creates an Analyzer. Nil scorers fall back to the static
// low-risk default.
func NewAnalyzer(geo, network IPScorer) *Analyzer {
	if geo == nil {
		geo = StaticScorer{Value: DefaultStaticScore}
	}
	if network == nil {
		network = StaticScorer{Value: DefaultStaticScore}
	}
	return &Analyzer{geo: geo, network: network}
}

// Analyze computes the composite risk score and level for one request.
func (a *Analyzer) Analyze(ctx context.Context, input Input) Analysis {
	uaScore, patterns := ScoreUserAgent(input.UserAgent)

	geoScore, err := a.geo.Score(ctx, input.IPAddress)
	if err != nil {
		slog.Debug("geo scorer failed, using default", "error", err)
		geoScore = DefaultStaticScore
	}
	networkScore, err := a.network.Score(ctx, input.IPAddress)
	if err != nil {
		slog.Debug("network scorer failed, using default", "error", err)
		networkScore = DefaultStaticScore
	}

	sub := SubScores{
		Timing:            ScoreTiming(input.SinceLastAttempt),
		UserAgent:         uaScore,
		HeaderConsistency: clamp01(input.HeaderConsistency),
		Geographic:        clamp01(geoScore),
		Network:           clamp01(networkScore),
	}

	score := weightTiming*sub.Timing +
		weightUserAgent*sub.UserAgent +
		weightConsistency*(1-sub.HeaderConsistency) +
		weightGeographic*sub.Geographic +
		weightNetwork*sub.Network

	// A client that identifies itself as automation tooling is rejected
	// outright; the weighted blend alone cannot reach the reject threshold
	// when the geo and network scorers are static defaults.
	if sub.UserAgent >= automationOverrideUA {
		if score < automationOverrideScore {
			score = automationOverrideScore
		}
	}

	return Analysis{
		Score:              score,
		Level:              levelOf(score),
		SuspiciousPatterns: patterns,
		SubScores:          sub,
		AnalyzedAt:         time.Now().UTC(),
	}
}

func levelOf(score float64) Level {
	switch {
	case score < thresholdMedium:
		return LevelLow
	case score < thresholdHigh:
		return LevelMedium
	case score < thresholdCritical:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// automationKeywords flags tooling, scripting clients and known automation
// frameworks in a client-identification string.
var automationKeywords = []string{
	"bot", "crawler", "spider", "scraper", "automation", "headless",
	"phantom", "selenium", "webdriver", "puppeteer", "playwright",
	"python", "java/", "curl", "wget", "perl", "ruby", "go-http-client",
	"okhttp", "httpclient", "powershell",
}

var (
	automationPattern = regexp.MustCompile(`(?i)(bot|crawler|spider|scraper|headless|phantomjs|selenium|webdriver|puppeteer|playwright|electron|curl|wget|python|scrapy)`)
	uuidPattern       = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// ScoreUserAgent accumulates the user-agent sub-score, clipped to 1.0, and
// returns the suspicious-pattern tags that fired.
func ScoreUserAgent(ua string) (float64, []string) {
	var score float64
	var patterns []string

	if ua == "" {
		return clamp01(0.3), []string{"missing_user_agent"}
	}
	if len(ua) < 10 {
		score += 0.2
		patterns = append(patterns, "short_user_agent")
	}
	if len(ua) > 500 {
		score += 0.1
		patterns = append(patterns, "oversized_user_agent")
	}

	lower := strings.ToLower(ua)
	for _, keyword := range automationKeywords {
		if strings.Contains(lower, keyword) {
			score += 0.4
			patterns = append(patterns, "automation_keyword:"+keyword)
			break
		}
	}
	if automationPattern.MatchString(ua) {
		score += 0.5
		patterns = append(patterns, "automation_framework")
	}
	if len(uuidPattern.FindAllString(ua, 4)) > 2 {
		score += 0.3
		patterns = append(patterns, "embedded_identifiers")
	}

	return clamp01(score), patterns
}

// ScoreTiming scores the interval since the previous attempt. Sub-second
// retries look automated; an unknown interval carries mild baseline risk.
func ScoreTiming(sinceLast time.Duration) float64 {
	switch {
	case sinceLast <= 0:
		return 0.2
	case sinceLast < 500*time.Millisecond:
		return 0.8
	case sinceLast < 2*time.Second:
		return 0.4
	default:
		return 0.1
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
