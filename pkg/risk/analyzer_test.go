package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const legitimateUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36"

func TestAnalyze_LegitimateBrowserIsLow(t *testing.T) {
	analyzer := NewAnalyzer(nil, nil)

	analysis := analyzer.Analyze(context.Background(), Input{
		UserAgent:         legitimateUA,
		HeaderConsistency: 1.0,
		SinceLastAttempt:  time.Minute,
		IPAddress:         "203.0.113.10",
	})

	assert.Equal(t, LevelLow, analysis.Level)
	assert.False(t, analysis.Reject())
	assert.False(t, analysis.ForceUntrusted())
	assert.Empty(t, analysis.SuspiciousPatterns)
}

func TestAnalyze_CurlIsRejected(t *testing.T) {
	analyzer := NewAnalyzer(nil, nil)

	analysis := analyzer.Analyze(context.Background(), Input{
		UserAgent:         "curl/7.68.0",
		HeaderConsistency: 0,
	})

	assert.Greater(t, analysis.Score, 0.9)
	assert.Equal(t, LevelCritical, analysis.Level)
	assert.True(t, analysis.Reject())
}

func TestAnalyze_HighScorersForceUntrusted(t *testing.T) {
	analyzer := NewAnalyzer(StaticScorer{Value: 0.9}, StaticScorer{Value: 0.9})

	analysis := analyzer.Analyze(context.Background(), Input{
		UserAgent:         legitimateUA,
		HeaderConsistency: 0.2,
		SinceLastAttempt:  300 * time.Millisecond,
	})

	assert.True(t, analysis.Score > 0.5)
	assert.True(t, analysis.Audit())
}

func TestScoreUserAgent(t *testing.T) {
	tests := []struct {
		name     string
		ua       string
		minScore float64
		maxScore float64
		pattern  string
	}{
		{"missing", "", 0.3, 0.3, "missing_user_agent"},
		{"short", "abc", 0.2, 0.3, "short_user_agent"},
		{"headless browser", "Mozilla/5.0 HeadlessChrome/119.0", 0.9, 1.0, "automation_framework"},
		{"selenium", "selenium webdriver client", 0.9, 1.0, "automation_framework"},
		{"clean", legitimateUA, 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, patterns := ScoreUserAgent(tt.ua)
			assert.GreaterOrEqual(t, score, tt.minScore)
			assert.LessOrEqual(t, score, tt.maxScore)
			if tt.pattern != "" {
				found := false
				for _, p := range patterns {
					if p == tt.pattern || len(p) > len(tt.pattern) && p[:len(tt.pattern)] == tt.pattern {
						found = true
					}
				}
				assert.True(t, found, "expected pattern %s in %v", tt.pattern, patterns)
			} else {
				assert.Empty(t, patterns)
			}
		})
	}
}

func TestScoreUserAgent_EmbeddedIdentifiers(t *testing.T) {
	ua := legitimateUA +
		" 11111111-2222-3333-4444-555555555555" +
		" 66666666-7777-8888-9999-000000000000" +
		" aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	score, patterns := ScoreUserAgent(ua)
	assert.Contains(t, patterns, "embedded_identifiers")
	assert.GreaterOrEqual(t, score, 0.3)
}

func TestScoreTiming(t *testing.T) {
	assert.Equal(t, 0.2, ScoreTiming(0))
	assert.Equal(t, 0.8, ScoreTiming(100*time.Millisecond))
	assert.Equal(t, 0.4, ScoreTiming(time.Second))
	assert.Equal(t, 0.1, ScoreTiming(time.Minute))
}

func TestLevelThresholds(t *testing.T) {
	assert.Equal(t, LevelLow, levelOf(0.29))
	assert.Equal(t, LevelMedium, levelOf(0.30))
	assert.Equal(t, LevelMedium, levelOf(0.59))
	assert.Equal(t, LevelHigh, levelOf(0.60))
	assert.Equal(t, LevelHigh, levelOf(0.79))
	assert.Equal(t, LevelCritical, levelOf(0.80))
}
