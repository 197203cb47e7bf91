package domain

const MaxRiskScore = 100

// RiskInput is everything the risk heuristic looks at
type RiskInput struct {
	Device DeviceInfo
	// PriorEvents is the number of stored events from the same IP in the trailing 24h
	PriorEvents int64
}

// RiskAssessment is the scored result with the rules that fired
type RiskAssessment struct {
	Score   int      `json:"score"`
	Signals []string `json:"signals"`
}

// ScoreRisk is an additive heuristic over the device snapshot and recent IP
// activity, capped at MaxRiskScore. It is deterministic and has no side effects.
func ScoreRisk(in RiskInput) RiskAssessment {
	score := 0
	signals := make([]string, 0, 5)

	switch {
	case in.PriorEvents > 10:
		score += 30
		signals = append(signals, "ip_burst")
	case in.PriorEvents > 5:
		score += 15
		signals = append(signals, "ip_repeat")
	}

	if len(in.Device.UserAgent) < 20 {
		score += 25
		signals = append(signals, "weak_user_agent")
	}
	if in.Device.ScreenResolution == "" {
		score += 10
		signals = append(signals, "no_screen")
	}
	if in.Device.Timezone == "" {
		score += 10
		signals = append(signals, "no_timezone")
	}
	if in.Device.Language == "" {
		score += 10
		signals = append(signals, "no_language")
	}

	if score > MaxRiskScore {
		score = MaxRiskScore
	}
	return RiskAssessment{Score: score, Signals: signals}
}

// Suspicious reports whether score is above threshold
func Suspicious(score, threshold int) bool {
	return score > threshold
}
