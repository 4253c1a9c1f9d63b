// Package types holds the domain entities shared across ChallengeCtl's
// controller: agents, challenges, transmissions, artifacts, and the
// auth/enrollment/recording records described in spec.md §3.
package types

import "time"

// AgentKind distinguishes a transmitting worker from a receiving listener.
type AgentKind string

const (
	AgentKindTransmitter AgentKind = "transmitter"
	AgentKindReceiver    AgentKind = "receiver"
)

// AgentStatus is derived from heartbeat recency by the maintenance sweeps.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// DeviceDescriptor is one SDR device an agent reports at enrollment/register
// time, optionally limiting the frequency ranges it can transmit or receive.
type DeviceDescriptor struct {
	Name        string         `json:"name"`
	Enabled     bool           `json:"enabled"`
	FreqLimitHz []FreqRangeRaw `json:"freq_limits,omitempty"`
}

// FreqRangeRaw is an inclusive [min,max] range in Hz, used both for a
// device's declared limits and for a challenge's manual-range form.
type FreqRangeRaw struct {
	MinHz int64 `json:"min_hz"`
	MaxHz int64 `json:"max_hz"`
}

// Contains reports whether freqHz falls within the inclusive range.
func (r FreqRangeRaw) Contains(freqHz int64) bool {
	return freqHz >= r.MinHz && freqHz <= r.MaxHz
}

// HostIdentity is the tuple used to bind an agent credential to a physical
// origin (spec.md §4.2).
type HostIdentity struct {
	IP        string `json:"ip,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	MAC       string `json:"mac,omitempty"`
	MachineID string `json:"machine_id,omitempty"`
}

// Agent is a worker or receiver (spec.md §3 "Agent").
type Agent struct {
	ID             string             `json:"id"`
	Kind           AgentKind          `json:"kind"`
	Hostname       string             `json:"hostname"`
	IP             string             `json:"ip"`
	MAC            string             `json:"mac,omitempty"`
	MachineID      string             `json:"machine_id,omitempty"`
	Status         AgentStatus        `json:"status"`
	Enabled        bool               `json:"enabled"`
	LastHeartbeat  time.Time          `json:"last_heartbeat"`
	CredentialHash string             `json:"-"`
	Devices        []DeviceDescriptor `json:"devices,omitempty"`
	PushConnected  bool               `json:"push_connected"`
	CreatedAt      time.Time          `json:"created_at"`
}

// HostIdentity extracts the currently-recorded host identity for binding
// comparisons (spec.md §4.2).
func (a *Agent) HostIdentity() HostIdentity {
	return HostIdentity{IP: a.IP, Hostname: a.Hostname, MAC: a.MAC, MachineID: a.MachineID}
}

// ChallengeStatus is the state-machine position of a challenge (spec.md §4.5.1).
type ChallengeStatus string

const (
	ChallengeQueued   ChallengeStatus = "queued"
	ChallengeWaiting  ChallengeStatus = "waiting"
	ChallengeAssigned ChallengeStatus = "assigned"
	ChallengeDisabled ChallengeStatus = "disabled"
)

// ModulationKind enumerates the modulation-specific payload variants a
// challenge configuration may carry (spec.md §9 "tagged union").
type ModulationKind string

const (
	ModulationCW    ModulationKind = "cw"
	ModulationAM    ModulationKind = "am"
	ModulationFM    ModulationKind = "fm"
	ModulationAudio ModulationKind = "audio"
	ModulationFHSS  ModulationKind = "fhss"
	ModulationPSK   ModulationKind = "psk"
)

// FrequencyKind tags which of the three frequency-specification forms
// (spec.md §4.5.2) a challenge declares.
type FrequencyKind string

const (
	FrequencySingle     FrequencyKind = "single"
	FrequencyNamedRange FrequencyKind = "named_range"
	FrequencyManual     FrequencyKind = "manual"
)

// FrequencySpec is the tagged union over a challenge's frequency declaration.
// Exactly one of the three forms is populated, selected by Kind.
type FrequencySpec struct {
	Kind        FrequencyKind `json:"kind"`
	SingleHz    int64         `json:"single_hz,omitempty"`
	NamedRanges []string      `json:"named_ranges,omitempty"`
	Manual      *FreqRangeRaw `json:"manual,omitempty"`
}

// ModulationParams carries the modulation-specific knobs a challenge may
// declare. Unused fields for a given Kind are left zero.
type ModulationParams struct {
	SpeedWPM      int `json:"speed_wpm,omitempty"`       // CW
	SampleRateHz  int `json:"sample_rate_hz,omitempty"`  // audio
	HopCount      int `json:"hop_count,omitempty"`       // FHSS
	HopIntervalMs int `json:"hop_interval_ms,omitempty"` // FHSS
	SymbolRate    int `json:"symbol_rate,omitempty"`     // PSK
}

// PayloadRef identifies the transmission payload for a challenge: either an
// inline text payload, or a reference to a stored artifact by its SHA-256.
type PayloadRef struct {
	Text         string `json:"text,omitempty"`
	ArtifactHash string `json:"artifact_hash,omitempty"`
}

// ChallengeConfig is the parsed, typed configuration payload for a
// challenge. It replaces the opaque JSON blob the source keeps (spec.md §9
// "Dynamic blob configuration").
type ChallengeConfig struct {
	Frequency  FrequencySpec    `json:"frequency"`
	Modulation ModulationKind   `json:"modulation"`
	Payload    PayloadRef       `json:"payload"`
	MinDelayS  int              `json:"min_delay_s"`
	MaxDelayS  int              `json:"max_delay_s"`
	Params     ModulationParams `json:"params,omitempty"`
	PublicView bool             `json:"public_view,omitempty"`
}

// MeanDelay returns the per-challenge delay per spec.md §4.5.5: the mean of
// the declared [min,max] bounds, in seconds.
func (c ChallengeConfig) MeanDelay() time.Duration {
	return time.Duration(c.MinDelayS+c.MaxDelayS) * time.Second / 2
}

// Challenge is a named transmission specification (spec.md §3 "Challenge").
type Challenge struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Config           ChallengeConfig `json:"config"`
	Status           ChallengeStatus `json:"status"`
	Priority         int             `json:"priority"`
	LastTxTime       *time.Time      `json:"last_tx_time,omitempty"`
	TransmitCount    int64           `json:"transmit_count"`
	OwnerAgentID     string          `json:"owner_agent_id,omitempty"`
	AssignmentBegin  *time.Time      `json:"assignment_begin,omitempty"`
	AssignmentExpiry *time.Time      `json:"assignment_expiry,omitempty"`
	Enabled          bool            `json:"enabled"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TransmissionOutcome is the result recorded for a completed transmission.
type TransmissionOutcome string

const (
	OutcomeSuccess TransmissionOutcome = "success"
	OutcomeFailure TransmissionOutcome = "failure"
)

// TransmissionRecord is an append-only historical fact (spec.md §3).
type TransmissionRecord struct {
	ID          int64               `json:"id"`
	ChallengeID string              `json:"challenge_id"`
	AgentID     string              `json:"agent_id"`
	DeviceID    string              `json:"device_id,omitempty"`
	FrequencyHz int64               `json:"frequency_hz"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Outcome     TransmissionOutcome `json:"outcome"`
	Error       string              `json:"error,omitempty"`
}

// File is the metadata row for a content-addressed artifact (spec.md §3
// "Artifact"); the blob itself lives on disk at <store>/<hash>.
type File struct {
	Hash      string    `json:"hash"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	MediaType string    `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrollmentToken is a single-use binding token (spec.md §3).
type EnrollmentToken struct {
	Token       string     `json:"token"`
	AgentID     string     `json:"agent_id"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	UsedByAgent string     `json:"used_by_agent,omitempty"`
}

// Session is an operator login context (spec.md §3).
type Session struct {
	Token        string    `json:"-"`
	Username     string    `json:"username"`
	ExpiresAt    time.Time `json:"expires_at"`
	TOTPVerified bool      `json:"totp_verified"`
	CreatedAt    time.Time `json:"created_at"`
	CSRFToken    string    `json:"-"`
}

// OperatorUser is a dashboard login identity (spec.md §3).
type OperatorUser struct {
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"`
	TOTPSecretEncrypted string     `json:"-"`
	Enabled             bool       `json:"enabled"`
	MustChangePassword  bool       `json:"must_change_password"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
}

// Permission names granted to operator users (subset relevant to the core;
// the browser UI may define more, out of scope per spec.md §1).
const (
	PermissionCreateUsers     = "create_users"
	PermissionManageChallenge = "manage_challenges"
	PermissionManageAgents    = "manage_agents"
	PermissionProvision       = "provision_agents"
)

// ProvisioningCredential is a long-lived stateless key for automated
// enrollment (spec.md §3).
type ProvisioningCredential struct {
	KeyID          string     `json:"key_id"`
	CredentialHash string     `json:"-"`
	Description    string     `json:"description"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	Enabled        bool       `json:"enabled"`
}

// RecordingAssignmentStatus is the lifecycle state of a pushed recording
// directive (spec.md §3).
type RecordingAssignmentStatus string

const (
	RecordingPending   RecordingAssignmentStatus = "pending"
	RecordingRecording RecordingAssignmentStatus = "recording"
	RecordingCompleted RecordingAssignmentStatus = "completed"
	RecordingCancelled RecordingAssignmentStatus = "cancelled"
	RecordingFailed    RecordingAssignmentStatus = "failed"
)

// RecordingAssignment is an ephemeral directive to a receiver (spec.md §3).
type RecordingAssignment struct {
	ID                int64                     `json:"id"`
	ReceiverAgentID   string                    `json:"receiver_agent_id"`
	ChallengeID       string                    `json:"challenge_id"`
	TransmissionID    int64                     `json:"transmission_id,omitempty"`
	FrequencyHz       int64                     `json:"frequency_hz"`
	AssignedAt        time.Time                 `json:"assigned_at"`
	ExpectedStartAt   time.Time                 `json:"expected_start_at"`
	ExpectedDuration  time.Duration             `json:"expected_duration"`
	Status            RecordingAssignmentStatus `json:"status"`
	CancelledAt       *time.Time                `json:"cancelled_at,omitempty"`
	CompletedAt       *time.Time                `json:"completed_at,omitempty"`
}

// Recording is a historical capture (spec.md §3).
type Recording struct {
	ID              int64               `json:"id"`
	ChallengeID     string              `json:"challenge_id"`
	ReceiverAgentID string              `json:"receiver_agent_id"`
	TransmissionID  int64               `json:"transmission_id,omitempty"`
	FrequencyHz     int64               `json:"frequency_hz"`
	StartedAt       time.Time           `json:"started_at"`
	CompletedAt     time.Time           `json:"completed_at"`
	Outcome         TransmissionOutcome `json:"outcome"`
	ImagePath       string              `json:"image_path,omitempty"`
	ImageWidth      int                 `json:"image_width,omitempty"`
	ImageHeight     int                 `json:"image_height,omitempty"`
	SampleRateHz    int                 `json:"sample_rate_hz,omitempty"`
	Duration        time.Duration       `json:"duration,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// SystemState is the process-wide key-value flag set (spec.md §3).
type SystemState struct {
	Paused          bool       `json:"paused"`
	ConferenceName  string     `json:"conference_name,omitempty"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	StopAt          *time.Time `json:"stop_at,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
	DailyHoursStart string     `json:"daily_hours_start,omitempty"`
	DailyHoursEnd   string     `json:"daily_hours_end,omitempty"`
}
