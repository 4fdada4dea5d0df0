package usage

import (
	"math"
	"strings"

	"github.com/tinge-app/tinge/internal/domain/models"
)

// Per-token prices for the realtime model, by modality bucket.
const (
	PriceTextIn   = 5e-6
	PriceTextOut  = 2e-5
	PriceAudioIn  = 4e-5
	PriceAudioOut = 8e-5
)

// estimatePricePerToken is the blended rate applied to estimated tokens
// before an actual usage report arrives.
const estimatePricePerToken = PriceTextOut

// CostOf prices a cumulative usage report by bucket.
func CostOf(d models.UsageReport) float64 {
	return float64(d.InputTokenDetails.TextTokens)*PriceTextIn +
		float64(d.InputTokenDetails.AudioTokens)*PriceAudioIn +
		float64(d.OutputTokenDetails.TextTokens)*PriceTextOut +
		float64(d.OutputTokenDetails.AudioTokens)*PriceAudioOut
}

// EstimateTokensFromText approximates the token count of a text fragment.
func EstimateTokensFromText(s string) uint64 {
	words := len(strings.Fields(s))
	if words == 0 {
		return 0
	}
	return uint64(math.Ceil(float64(words) * 1.3))
}

// EstimateTokensFromAudio approximates the token count of an audio segment,
// assuming roughly 150 tokens per minute of speech.
func EstimateTokensFromAudio(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(math.Ceil(seconds * 150 / 60))
}
