package news

import "strings"

// Sentiment is attached to every article after retrieval, per spec §4.5.
type Sentiment struct {
	Label      string  `json:"label"` // positive | negative | neutral
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// positiveKeywords / negativeKeywords ground the keyword scorer on the
// original sentiment_analyzer.py's headline fixtures: a thin lexicon, not a
// model. Out of scope for anything heavier per the spec's explicit carve-out.
var positiveKeywords = []string{
	"surge", "surges", "surged", "beat", "beats", "beating", "strong", "growth",
	"grow", "growing", "upgrade", "upgrades", "upgraded", "profit", "profits",
	"record", "rising", "rise", "rises", "rose", "gain", "gains", "bullish",
	"outperform", "soar", "soars", "rally", "rallies",
}

var negativeKeywords = []string{
	"fall", "falls", "falling", "fell", "miss", "misses", "missed", "downgrade",
	"downgrades", "downgraded", "loss", "losses", "decline", "declines",
	"declining", "concern", "concerns", "lawsuit", "bearish", "underperform",
	"weak", "weakness", "plunge", "plunges", "plunged", "slump", "slumps",
}

// labelForScore buckets a score using the ±0.1 threshold shared by
// per-article scoring and the market aggregation step.
func labelForScore(score float64) string {
	switch {
	case score > 0.1:
		return "positive"
	case score < -0.1:
		return "negative"
	default:
		return "neutral"
	}
}

// analyzeSentiment scores headline+summary text by keyword match count.
// score = (pos-neg)/(pos+neg), with no further scaling by the keyword count;
// confidence grows with the number of keyword hits, saturating at 5.
func analyzeSentiment(headline, summary string) Sentiment {
	text := strings.ToLower(headline + " " + summary)

	pos := countMatches(text, positiveKeywords)
	neg := countMatches(text, negativeKeywords)
	total := pos + neg

	if total == 0 {
		return Sentiment{Label: "neutral", Score: 0, Confidence: 0}
	}

	score := float64(pos-neg) / float64(total)
	confidence := float64(total) / 5.0
	if confidence > 1 {
		confidence = 1
	}

	return Sentiment{Label: labelForScore(score), Score: score, Confidence: confidence}
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// AggregateSentiment computes the weighted mean sentiment over articles that
// already carry a Sentiment, per spec §4.5 step 2 (Σscore·confidence /
// Σconfidence, mean confidence = Σconfidence/N). Returns a zero-value neutral
// sentiment for an empty slice.
func AggregateSentiment(sentiments []Sentiment) Sentiment {
	if len(sentiments) == 0 {
		return Sentiment{Label: "neutral", Score: 0, Confidence: 0}
	}

	var weightedScoreSum, confidenceSum float64
	for _, s := range sentiments {
		weightedScoreSum += s.Score * s.Confidence
		confidenceSum += s.Confidence
	}

	var score float64
	if confidenceSum > 0 {
		score = weightedScoreSum / confidenceSum
	}
	meanConfidence := confidenceSum / float64(len(sentiments))

	return Sentiment{Label: labelForScore(score), Score: score, Confidence: meanConfidence}
}
