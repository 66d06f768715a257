// Package config implements the watchable Service Config port: a
// key -> JSON configuration row per service, polled from Postgres and
// exposed as immutable snapshots. Workers never mutate configuration
// in-process; a new snapshot fully replaces the old one.
package config

// ConsumerConfig is shared by every outbox consumer (index, moderation,
// trust).
type ConsumerConfig struct {
	BatchSize        int `json:"batch_size"`
	PollIntervalSecs int `json:"poll_interval_seconds"`
}

// RelayAuthConfig controls WebSocket ingest authentication.
type RelayAuthConfig struct {
	Mode                 string `json:"mode"`
	EnforceAt            *int64 `json:"enforce_at,omitempty"`
	GraceSeconds         int    `json:"grace_seconds"`
	WsAuthTimeoutSeconds int    `json:"ws_auth_timeout_seconds"`
}

// RelayLimitsConfig bounds event shape at ingest.
type RelayLimitsConfig struct {
	MaxEventBytes int `json:"max_event_bytes"`
	MaxTags       int `json:"max_tags"`
}

// RelayConfig is the relay/ingest watchable configuration (spec §6).
type RelayConfig struct {
	Auth   RelayAuthConfig   `json:"auth"`
	Limits RelayLimitsConfig `json:"limits"`
}

// IndexReindexConfig controls the reindex job runner poll cadence.
type IndexReindexConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

// IndexExpirationConfig controls the expiration sweeper cadence.
type IndexExpirationConfig struct {
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

// IndexConfig is the index worker watchable configuration.
type IndexConfig struct {
	Enabled    bool                  `json:"enabled"`
	Consumer   ConsumerConfig        `json:"consumer"`
	Reindex    IndexReindexConfig    `json:"reindex"`
	Expiration IndexExpirationConfig `json:"expiration"`
}

// QueueConfig controls moderation job retry behavior.
type QueueConfig struct {
	MaxAttempts       int `json:"max_attempts"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`
}

// RulesConfig bounds rule-engine label issuance.
type RulesConfig struct {
	MaxLabelsPerEvent int `json:"max_labels_per_event"`
}

// LlmConfig gates the optional LLM classification path.
type LlmConfig struct {
	Enabled             bool    `json:"enabled"`
	Provider            string  `json:"provider"`
	ExternalSendEnabled bool    `json:"external_send_enabled"`
	TruncateChars       int     `json:"truncate_chars"`
	MaskPII             bool    `json:"mask_pii"`
	MaxRequestsPerDay   int     `json:"max_requests_per_day"`
	MaxCostPerDay       float64 `json:"max_cost_per_day"`
	MaxConcurrency      int     `json:"max_concurrency"`
	CostPer1kChars      float64 `json:"cost_per_1k_chars"`
}

// ModerationConfig is the moderation worker watchable configuration.
type ModerationConfig struct {
	Enabled  bool           `json:"enabled"`
	Consumer ConsumerConfig `json:"consumer"`
	Queue    QueueConfig    `json:"queue"`
	Rules    RulesConfig    `json:"rules"`
	LLM      LlmConfig      `json:"llm"`
}

// ReportBasedConfig parameterizes the report-based trust score.
type ReportBasedConfig struct {
	WindowDays         int     `json:"window_days"`
	ReportWeight       float64 `json:"report_weight"`
	LabelWeight        float64 `json:"label_weight"`
	ScoreNormalization float64 `json:"score_normalization"`
}

// CommunicationDensityConfig parameterizes the communication-density score.
type CommunicationDensityConfig struct {
	WindowDays         int             `json:"window_days"`
	ScoreNormalization float64         `json:"score_normalization"`
	InteractionWeights map[int]float64 `json:"interaction_weights"`
}

// AttestationConfig controls attestation validity windows.
type AttestationConfig struct {
	ExpSeconds int `json:"exp_seconds"`
}

// TrustJobsConfig controls the periodic scheduler cadence.
type TrustJobsConfig struct {
	SchedulePollSeconds           int `json:"schedule_poll_seconds"`
	ReportBasedIntervalSeconds    int `json:"report_based_interval_seconds"`
	CommunicationIntervalSeconds int `json:"communication_interval_seconds"`
}

// TrustConfig is the trust engine watchable configuration.
type TrustConfig struct {
	Enabled              bool                       `json:"enabled"`
	Consumer             ConsumerConfig             `json:"consumer"`
	ReportBased          ReportBasedConfig          `json:"report_based"`
	CommunicationDensity CommunicationDensityConfig `json:"communication_density"`
	Attestation          AttestationConfig          `json:"attestation"`
	Jobs                 TrustJobsConfig            `json:"jobs"`
}

// Snapshot is an immutable bundle of every service's current configuration,
// produced wholesale by the Watcher (design note §9: "service configs are
// immutable snapshots produced by the watcher").
type Snapshot struct {
	Relay      RelayConfig
	Index      IndexConfig
	Moderation ModerationConfig
	Trust      TrustConfig

	// Versions tracks each service's row version for optimistic-concurrency
	// updates (VersionMismatch, spec §7).
	Versions map[string]int64
}
