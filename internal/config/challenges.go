package config

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// ImportChallenges parses and upserts every spec in specs against s,
// following spec.md §6.5's additive reload semantics: a name already
// present has its config/priority updated in place, a new name is
// inserted, and a name present in the store but absent from specs is
// left untouched (removals are never implied by a config reload).
// Returns the names it rejected, paired with the validation error, so
// the caller (boot or reload) can log and continue rather than abort the
// whole import over one bad record.
func ImportChallenges(ctx context.Context, s *store.Store, catalog []types.NamedFreqRange, specs []types.ChallengeSpec) map[string]error {
	rejected := make(map[string]error)
	for _, spec := range specs {
		cfg, err := ParseChallengeSpec(ctx, s, catalog, spec)
		if err != nil {
			rejected[spec.Name] = err
			continue
		}
		priority := spec.Priority
		enabled := true
		if spec.Enabled != nil {
			enabled = *spec.Enabled
		}

		err = s.WithWrite(ctx, func(tx *store.Tx) error {
			existing, err := tx.GetChallengeByName(spec.Name)
			if err == nil {
				return tx.UpdateChallengeConfig(existing.ID, cfg, priority)
			}
			if _, ok := err.(*store.NotFoundError); !ok {
				return err
			}
			return tx.CreateChallenge(&types.Challenge{
				ID:        uuid.NewString(),
				Name:      spec.Name,
				Config:    cfg,
				Status:    types.ChallengeQueued,
				Priority:  priority,
				Enabled:   enabled,
				CreatedAt: tx.Now(),
			})
		})
		if err != nil {
			rejected[spec.Name] = err
		}
	}
	return rejected
}

// ParseChallengeSpec converts the wire/YAML ChallengeSpec (spec.md §6.4)
// into the typed ChallengeConfig the Assignment Engine operates on,
// resolving named frequency ranges against catalog and a payload_file
// reference against the artifact metadata store. Parsed once at the
// ingress (config import, operator create) per spec.md §9's "Dynamic
// blob configuration" design note; malformed records are rejected here,
// not decoded lazily at dispatch time.
func ParseChallengeSpec(ctx context.Context, s *store.Store, catalog []types.NamedFreqRange, spec types.ChallengeSpec) (types.ChallengeConfig, error) {
	var cfg types.ChallengeConfig

	if spec.Name == "" {
		return cfg, fmt.Errorf("bad request: name is required")
	}
	if spec.Modulation == "" {
		return cfg, fmt.Errorf("bad request: modulation is required")
	}
	if spec.MinDelayS < 0 || spec.MaxDelayS < spec.MinDelayS {
		return cfg, fmt.Errorf("bad request: min_delay/max_delay out of order")
	}

	freq, err := parseFrequencySpec(catalog, spec)
	if err != nil {
		return cfg, err
	}

	payload, err := resolvePayload(ctx, s, spec)
	if err != nil {
		return cfg, err
	}

	cfg = types.ChallengeConfig{
		Frequency:  freq,
		Modulation: spec.Modulation,
		Payload:    payload,
		MinDelayS:  spec.MinDelayS,
		MaxDelayS:  spec.MaxDelayS,
		Params:     spec.Params,
		PublicView: spec.PublicView,
	}
	return cfg, nil
}

// parseFrequencySpec enforces "exactly one of the three forms"
// (spec.md §4.5.2).
func parseFrequencySpec(catalog []types.NamedFreqRange, spec types.ChallengeSpec) (types.FrequencySpec, error) {
	var zero types.FrequencySpec
	forms := 0
	if spec.FrequencyHz != 0 {
		forms++
	}
	if len(spec.NamedRanges) > 0 {
		forms++
	}
	if spec.ManualRange != nil {
		forms++
	}
	if forms != 1 {
		return zero, fmt.Errorf("bad request: exactly one of frequency_hz, named_ranges, manual_range is required")
	}

	switch {
	case spec.FrequencyHz != 0:
		return types.FrequencySpec{Kind: types.FrequencySingle, SingleHz: spec.FrequencyHz}, nil
	case len(spec.NamedRanges) > 0:
		byName := make(map[string]struct{}, len(catalog))
		for _, r := range catalog {
			byName[r.Name] = struct{}{}
		}
		for _, name := range spec.NamedRanges {
			if _, ok := byName[name]; !ok {
				return zero, fmt.Errorf("bad request: unknown named range %q", name)
			}
		}
		return types.FrequencySpec{Kind: types.FrequencyNamedRange, NamedRanges: spec.NamedRanges}, nil
	default:
		if spec.ManualRange.MinHz > spec.ManualRange.MaxHz {
			return zero, fmt.Errorf("bad request: manual_range min_hz > max_hz")
		}
		return types.FrequencySpec{Kind: types.FrequencyManual, Manual: spec.ManualRange}, nil
	}
}

// resolvePayload enforces "payload: text, or a reference to an artifact
// by hash or by filename" (spec.md §6.4), resolving a filename to its
// current hash at ingress rather than storing the filename on the
// challenge itself.
func resolvePayload(ctx context.Context, s *store.Store, spec types.ChallengeSpec) (types.PayloadRef, error) {
	var zero types.PayloadRef
	forms := 0
	if spec.PayloadText != "" {
		forms++
	}
	if spec.PayloadHash != "" {
		forms++
	}
	if spec.PayloadFile != "" {
		forms++
	}
	if forms != 1 {
		return zero, fmt.Errorf("bad request: exactly one of payload_text, payload_hash, payload_file is required")
	}

	if spec.PayloadText != "" {
		return types.PayloadRef{Text: spec.PayloadText}, nil
	}
	if spec.PayloadHash != "" {
		var exists bool
		err := s.WithRead(ctx, func(tx *store.Tx) error {
			_, err := tx.GetFile(spec.PayloadHash)
			exists = err == nil
			if _, ok := err.(*store.NotFoundError); ok {
				return nil
			}
			return err
		})
		if err != nil {
			return zero, err
		}
		if !exists {
			return zero, fmt.Errorf("bad request: no artifact with hash %q", spec.PayloadHash)
		}
		return types.PayloadRef{ArtifactHash: spec.PayloadHash}, nil
	}

	var hash string
	err := s.WithRead(ctx, func(tx *store.Tx) error {
		f, err := tx.GetFileByFilename(spec.PayloadFile)
		if err != nil {
			return err
		}
		hash = f.Hash
		return nil
	})
	if err != nil {
		return zero, fmt.Errorf("bad request: payload_file %q: %w", spec.PayloadFile, err)
	}
	return types.PayloadRef{ArtifactHash: hash}, nil
}
