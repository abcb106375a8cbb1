package llm

// TokenEstimator approximates the token count of a text.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator assumes roughly four characters per token.
type CharEstimator struct{}

// Estimate implements TokenEstimator.
func (CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
