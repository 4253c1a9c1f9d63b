package types

// NamedFreqRange is one entry in the configured frequency-range catalog
// (spec.md §6.5), looked up by name from a challenge's named-range-list
// frequency form.
type NamedFreqRange struct {
	Name  string `yaml:"name" json:"name"`
	MinHz int64  `yaml:"min_hz" json:"min_hz"`
	MaxHz int64  `yaml:"max_hz" json:"max_hz"`
}

// ConferenceConfig carries event metadata used to gate scheduling windows.
type ConferenceConfig struct {
	Name            string `yaml:"name" json:"name"`
	Start           string `yaml:"start" json:"start"` // RFC3339
	Stop            string `yaml:"stop" json:"stop"`
	Timezone        string `yaml:"timezone" json:"timezone"`
	DailyHoursStart string `yaml:"daily_hours_start" json:"daily_hours_start"`
	DailyHoursEnd   string `yaml:"daily_hours_end" json:"daily_hours_end"`
}

// ChallengeSpec is the wire/YAML shape of a challenge definition, as
// accepted by the operator create-challenge endpoint and by config import
// (spec.md §6.4). It is parsed once at the ingress into a ChallengeConfig.
type ChallengeSpec struct {
	Name        string            `yaml:"name" json:"name"`
	FrequencyHz int64             `yaml:"frequency_hz,omitempty" json:"frequency_hz,omitempty"`
	NamedRanges []string          `yaml:"named_ranges,omitempty" json:"named_ranges,omitempty"`
	ManualRange *FreqRangeRaw     `yaml:"manual_range,omitempty" json:"manual_range,omitempty"`
	Modulation  ModulationKind    `yaml:"modulation" json:"modulation"`
	PayloadText string            `yaml:"payload_text,omitempty" json:"payload_text,omitempty"`
	PayloadHash string            `yaml:"payload_hash,omitempty" json:"payload_hash,omitempty"`
	PayloadFile string            `yaml:"payload_file,omitempty" json:"payload_file,omitempty"`
	MinDelayS   int               `yaml:"min_delay" json:"min_delay"`
	MaxDelayS   int               `yaml:"max_delay" json:"max_delay"`
	Enabled     *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Priority    int               `yaml:"priority,omitempty" json:"priority,omitempty"`
	Params      ModulationParams  `yaml:"params,omitempty" json:"params,omitempty"`
	PublicView  bool              `yaml:"public_view,omitempty" json:"public_view,omitempty"`
}

// Config is the top-level configuration document (spec.md §6.5).
type Config struct {
	BindAddress string           `yaml:"bind_address"`
	Port        int              `yaml:"port"`
	FreqRanges  []NamedFreqRange `yaml:"frequency_ranges"`
	Conference  ConferenceConfig `yaml:"conference"`
	Challenges  []ChallengeSpec  `yaml:"challenges,omitempty"`

	DataDir      string `yaml:"data_dir"`
	ArtifactDir  string `yaml:"artifact_dir"`
	NATSURL      string `yaml:"nats_url,omitempty"`

	// SecretKeyHex seeds the at-rest encryption key for TOTP secrets
	// (spec.md §4.2). Hex-encoded so it can round-trip through YAML
	// without escaping issues; 32 raw bytes once decoded.
	SecretKeyHex string `yaml:"secret_key_hex,omitempty"`
	// Issuer labels the TOTP enrollment QR code (e.g. "ChallengeCtl").
	Issuer string `yaml:"issuer,omitempty"`
}

// DefaultConfig returns sane defaults matching an unconfigured install.
func DefaultConfig() *Config {
	return &Config{
		BindAddress: "0.0.0.0",
		Port:        8443,
		DataDir:     "./data",
		ArtifactDir: "./data/artifacts",
		Issuer:      "ChallengeCtl",
	}
}
