package trust

import "github.com/kukuri-network/community-node/internal/config"

const (
	ClaimReportBased          = "report_based"
	ClaimCommunicationDensity = "communication_density"
)

// ReportBasedScore computes score = min(1, (R*report_weight + L*label_weight) / normalization).
func ReportBasedScore(cfg config.ReportBasedConfig, reports, labels int) (score float64, counters map[string]any) {
	weighted := float64(reports)*cfg.ReportWeight + float64(labels)*cfg.LabelWeight
	score = weighted / cfg.ScoreNormalization
	if score > 1 {
		score = 1
	}
	return score, map[string]any{"reports": reports, "labels": labels, "weighted": weighted}
}

// CommunicationDensityScore computes score = min(1, W / normalization).
func CommunicationDensityScore(cfg config.CommunicationDensityConfig, edges, peers int, weightSum float64) (score float64, counters map[string]any) {
	score = weightSum / cfg.ScoreNormalization
	if score > 1 {
		score = 1
	}
	return score, map[string]any{"edges": edges, "peers": peers, "weight_sum": weightSum}
}
