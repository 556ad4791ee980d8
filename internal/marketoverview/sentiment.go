package marketoverview

import "github.com/mclima/stock-intel-service/internal/news"

// bucketLabel applies the shared ±0.1 threshold used for both the news
// score scale (-1..1) and the average market percentage.
func bucketLabel(value float64) string {
	switch {
	case value > 0.1:
		return "positive"
	case value < -0.1:
		return "negative"
	default:
		return "neutral"
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// computeMarketSentiment implements the indices-alignment adjustment from
// spec §4.5: the weighted-mean news sentiment is nudged toward (or away
// from confidence in) the direction implied by index performance.
func computeMarketSentiment(newsSentiment news.Sentiment, indices []MarketIndex) news.Sentiment {
	score := newsSentiment.Score
	confidence := newsSentiment.Confidence

	if len(indices) == 0 {
		return news.Sentiment{Label: bucketLabel(score), Score: score, Confidence: confidence}
	}

	var sum float64
	for _, idx := range indices {
		sum += idx.ChangePercent
	}
	avgMarket := sum / float64(len(indices))

	newsBucket := bucketLabel(score)
	marketBucket := bucketLabel(avgMarket)

	bothNonNeutral := newsBucket != "neutral" && marketBucket != "neutral"
	switch {
	case bothNonNeutral && newsBucket == marketBucket:
		confidence += minf(0.20, minf(abs(score), abs(avgMarket/100))*2)
		score = 0.85*score + 0.15*(avgMarket/100)
	case bothNonNeutral && newsBucket != marketBucket:
		confidence -= minf(0.10, abs(score)*0.5)
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return news.Sentiment{Label: bucketLabel(score), Score: score, Confidence: confidence}
}
