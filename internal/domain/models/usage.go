package models

// TokenDetails breaks a token count down by modality.
type TokenDetails struct {
	TextTokens  uint64 `json:"text_tokens"`
	AudioTokens uint64 `json:"audio_tokens"`
}

// UsageReport is the per-response usage block emitted by the upstream
// realtime service. Counts are cumulative session totals, not deltas.
type UsageReport struct {
	InputTokens        uint64       `json:"input_tokens"`
	OutputTokens       uint64       `json:"output_tokens"`
	TotalTokens        uint64       `json:"total_tokens"`
	InputTokenDetails  TokenDetails `json:"input_token_details"`
	OutputTokenDetails TokenDetails `json:"output_token_details"`
}

// UsageSnapshot is the externally visible view of one ledger entry,
// including the derived fields.
type UsageSnapshot struct {
	Limit           uint64  `json:"limit"`
	EstimatedTokens uint64  `json:"estimatedTokens"`
	ActualTokens    uint64  `json:"actualTokens"`
	InputTokens     uint64  `json:"inputTokens"`
	OutputTokens    uint64  `json:"outputTokens"`
	TextInTokens    uint64  `json:"textInTokens"`
	AudioInTokens   uint64  `json:"audioInTokens"`
	TextOutTokens   uint64  `json:"textOutTokens"`
	AudioOutTokens  uint64  `json:"audioOutTokens"`
	EstimatedCost   float64 `json:"estimatedCost"`
	ActualCost      float64 `json:"actualCost"`
	CurrentTokens   uint64  `json:"currentTokens"`
	RemainingTokens uint64  `json:"remainingTokens"`
	UsagePercent    float64 `json:"usagePercent"`
	IsNearLimit     bool    `json:"isNearLimit"`
	IsAtLimit       bool    `json:"isAtLimit"`
	RequestCount    uint64  `json:"requestCount"`
	CreatedAt       int64   `json:"createdAt"`
	LastActivity    int64   `json:"lastActivity"`
	ConversationActive bool `json:"conversationActive"`
}
