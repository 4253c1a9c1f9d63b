package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/CLIAIMONITOR/internal/types"
)

const timeKeyLayout = time.RFC3339Nano

func upsertStateKey(t *Tx, key, value string) error {
	_, err := t.tx.Exec(`
		INSERT INTO system_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set system state %s: %w", key, err)
	}
	return nil
}

func readStateMap(t *Tx) (map[string]string, error) {
	rows, err := t.tx.Query("SELECT key, value FROM system_state")
	if err != nil {
		return nil, fmt.Errorf("read system state: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan system state: %w", err)
		}
		m[k] = v
	}
	return m, rows.Err()
}

// GetSystemState reassembles the process-wide flag set from the system_state
// key-value table (spec.md §3 "System state").
func (t *Tx) GetSystemState() (*types.SystemState, error) {
	m, err := readStateMap(t)
	if err != nil {
		return nil, err
	}

	s := &types.SystemState{
		Paused:          m["paused"] == "true",
		ConferenceName:  m["conference_name"],
		Timezone:        m["timezone"],
		DailyHoursStart: m["daily_hours_start"],
		DailyHoursEnd:   m["daily_hours_end"],
	}
	if raw, ok := m["start_at"]; ok && raw != "" {
		if ts, err := time.Parse(timeKeyLayout, raw); err == nil {
			s.StartAt = &ts
		}
	}
	if raw, ok := m["stop_at"]; ok && raw != "" {
		if ts, err := time.Parse(timeKeyLayout, raw); err == nil {
			s.StopAt = &ts
		}
	}
	return s, nil
}

// SetPaused toggles the global pause flag (spec.md §6.3 "pause/resume").
// While paused, the assignment engine dispatches nothing.
func (t *Tx) SetPaused(paused bool) error {
	return upsertStateKey(t, "paused", strconv.FormatBool(paused))
}

// SetConferenceInfo updates the conference metadata fields used by the
// operator dashboard and public view (spec.md §3 "System state").
func (t *Tx) SetConferenceInfo(s types.SystemState) error {
	if err := upsertStateKey(t, "conference_name", s.ConferenceName); err != nil {
		return err
	}
	if err := upsertStateKey(t, "timezone", s.Timezone); err != nil {
		return err
	}
	if err := upsertStateKey(t, "daily_hours_start", s.DailyHoursStart); err != nil {
		return err
	}
	if err := upsertStateKey(t, "daily_hours_end", s.DailyHoursEnd); err != nil {
		return err
	}
	startAt := ""
	if s.StartAt != nil {
		startAt = s.StartAt.Format(timeKeyLayout)
	}
	if err := upsertStateKey(t, "start_at", startAt); err != nil {
		return err
	}
	stopAt := ""
	if s.StopAt != nil {
		stopAt = s.StopAt.Format(timeKeyLayout)
	}
	return upsertStateKey(t, "stop_at", stopAt)
}
