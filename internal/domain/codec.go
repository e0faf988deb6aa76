package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCorruptState is returned by DecodeState when the document is not a
// single JSON object. Field-level damage is repaired instead.
var ErrCorruptState = errors.New("corrupt state document")

type stateDoc struct {
	ProcessedIDs    []int64                  `json:"processed_ids"`
	Failed          map[string]FailureRecord `json:"failed"`
	LastProcessedID *int64                   `json:"last_processed_id"`
	LastProcessedAt *int64                   `json:"last_processed_at"`
}

// EncodeState renders the state file document.
func EncodeState(s *State) ([]byte, error) {
	doc := stateDoc{
		ProcessedIDs: make([]int64, 0, len(s.ProcessedIDs)),
		Failed:       make(map[string]FailureRecord, len(s.Failed)),
	}
	for _, id := range s.ProcessedIDs {
		doc.ProcessedIDs = append(doc.ProcessedIDs, int64(id))
	}
	for id, rec := range s.Failed {
		doc.Failed[id.String()] = rec
	}
	if !s.LastProcessedAt.IsZero() {
		id := int64(s.LastProcessedID)
		at := s.LastProcessedAt.Unix()
		doc.LastProcessedID = &id
		doc.LastProcessedAt = &at
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeState parses a state document leniently: ids are normalized to
// OrderID, unparsable or duplicate entries are dropped.
func DecodeState(data []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrCorruptState)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: root is %T, want object", ErrCorruptState, root)
	}

	s := NewState()
	dropped := 0

	if list, ok := obj["processed_ids"].([]any); ok {
		for _, raw := range list {
			id, err := ParseOrderID(raw)
			if err != nil || s.IsProcessed(id) {
				dropped++
				continue
			}
			s.ProcessedIDs = append(s.ProcessedIDs, id)
			s.index[id] = struct{}{}
		}
	} else if obj["processed_ids"] != nil {
		dropped++
	}

	if failed, ok := obj["failed"].(map[string]any); ok {
		for key, raw := range failed {
			id, err := ParseOrderID(key)
			if err != nil {
				dropped++
				continue
			}
			fields, ok := raw.(map[string]any)
			if !ok {
				dropped++
				continue
			}
			s.Failed[id] = decodeFailure(fields)
		}
	} else if obj["failed"] != nil {
		dropped++
	}

	if raw, ok := obj["last_processed_id"]; ok && raw != nil {
		if id, err := ParseOrderID(raw); err == nil {
			s.LastProcessedID = id
		}
	}
	if at, ok := toInt64(obj["last_processed_at"]); ok && at > 0 {
		s.LastProcessedAt = time.Unix(at, 0)
	}

	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("state document contained unparsable entries")
	}
	return s, nil
}

func decodeFailure(fields map[string]any) FailureRecord {
	var rec FailureRecord
	if n, ok := toInt64(fields["count"]); ok {
		rec.Count = int(n)
	}
	if rec.Count < 1 {
		rec.Count = 1
	}
	rec.NextTS, _ = toInt64(fields["next_ts"])
	rec.UpdatedAt, _ = toInt64(fields["updated_at"])
	rec.LastStep, _ = fields["last_step"].(string)
	rec.LastError, _ = fields["last_error"].(string)
	rec.Terminal, _ = fields["terminal"].(bool)
	if rec.Terminal {
		rec.NextTS = TerminalNextTS
	}
	return rec
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		return int64(f), true
	case string:
		return toInt64(json.Number(x))
	default:
		return 0, false
	}
}
