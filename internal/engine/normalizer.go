package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingCallID    = errors.New("missing call id")
	ErrUnknownEventKind = errors.New("unknown event kind")
)

// NormalizationError wraps a parse failure with the topic it occurred on.
// Permanently unparseable: callers drop the message, never retry.
type NormalizationError struct {
	Topic string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %q: %v", e.Topic, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// TalkgroupInfo is reference-data enrichment for a talkgroup.
type TalkgroupInfo struct {
	AlphaTag    string
	Tag         string
	Group       string
	Description string
}

// Enricher resolves system/talkgroup metadata during normalization.
// External collaborator; implementations read a directory table.
type Enricher interface {
	EnrichTalkgroup(ctx context.Context, systemID string, tgid int) (TalkgroupInfo, bool)
}

// envelope is the common wrapper on every bus message.
type envelope struct {
	Type       string   `json:"type"`
	Timestamp  int64    `json:"timestamp"`
	InstanceID string   `json:"instance_id"`
	Call       callData `json:"call"`
}

// callData is the call sub-object in start/update/end/error messages.
type callData struct {
	ID                   string  `json:"id"`
	SysName              string  `json:"sys_name"`
	Talkgroup            int     `json:"talkgroup"`
	TalkgroupAlphaTag    string  `json:"talkgroup_alpha_tag"`
	TalkgroupTag         string  `json:"talkgroup_tag"`
	TalkgroupGroup       string  `json:"talkgroup_group"`
	TalkgroupDescription string  `json:"talkgroup_description"`
	Unit                 int     `json:"unit"`
	UnitAlphaTag         string  `json:"unit_alpha_tag"`
	Freq                 float64 `json:"freq"`
	Emergency            bool    `json:"emergency"`
	Encrypted            bool    `json:"encrypted"`
	StartTime            int64   `json:"start_time"`
	StopTime             int64   `json:"stop_time"`
	Length               float64 `json:"length"`
	AudioFile            string  `json:"audio_file"`
	AudioType            string  `json:"audio_type"`
	Filename             string  `json:"filename"`
	Error                string  `json:"error"`
}

// Normalizer parses raw bus messages into NormalizedEvents. Stateless
// apart from the injected clock and enricher.
type Normalizer struct {
	enricher Enricher
	now      func() time.Time
}

func NewNormalizer(enricher Enricher) *Normalizer {
	return &Normalizer{
		enricher: enricher,
		now:      time.Now,
	}
}

// Topic grammar, matching the feed layout of the recorder:
//
//	radio/feeds/call_start  → CALL_START
//	radio/feeds/call_update → CALL_UPDATE
//	radio/feeds/audio       → CALL_UPDATE (carries the audio reference)
//	radio/feeds/call_end    → CALL_END
//	radio/feeds/call_error  → ERROR_SIGNAL
func classifyTopic(topic string) (EventKind, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "radio" || parts[1] != "feeds" {
		return "", false
	}
	switch strings.Join(parts[2:], "/") {
	case "call_start":
		return KindCallStart, true
	case "call_update", "audio":
		return KindCallUpdate, true
	case "call_end":
		return KindCallEnd, true
	case "call_error":
		return KindErrorSignal, true
	}
	return "", false
}

// Normalize parses one raw message. Pure parse plus an optional
// reference-data read; no writes, no panics on bad input.
func (n *Normalizer) Normalize(ctx context.Context, topic string, payload []byte) (*NormalizedEvent, error) {
	kind, ok := classifyTopic(topic)
	if !ok {
		return nil, &NormalizationError{Topic: topic, Err: ErrUnknownEventKind}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &NormalizationError{Topic: topic, Err: fmt.Errorf("%w: %v", ErrUnknownEventKind, err)}
	}

	call := &env.Call
	if call.ID == "" {
		return nil, &NormalizationError{Topic: topic, Err: ErrMissingCallID}
	}

	ev := &NormalizedEvent{
		MessageID:  uuid.New(),
		CallID:     call.ID,
		SystemID:   call.SysName,
		Talkgroup:  call.Talkgroup,
		Unit:       call.Unit,
		Kind:       kind,
		Topic:      topic,
		ObservedAt: n.now().UTC(),
		AudioFile:  call.AudioFile,
		AudioType:  call.AudioType,
		Cause:      call.Error,
	}

	if ev.AudioFile == "" {
		ev.AudioFile = call.Filename
	}
	if call.StartTime > 0 {
		ev.StartTime = time.Unix(call.StartTime, 0).UTC()
	}
	if call.StopTime > 0 {
		ev.StopTime = time.Unix(call.StopTime, 0).UTC()
	}
	if kind == KindErrorSignal && ev.Cause == "" {
		ev.Cause = "signal"
	}

	ev.Payload = map[string]any{}
	if call.Freq > 0 {
		ev.Payload["freq"] = call.Freq
	}
	if call.Emergency {
		ev.Payload["emergency"] = true
	}
	if call.Encrypted {
		ev.Payload["encrypted"] = true
	}
	if call.UnitAlphaTag != "" {
		ev.Payload["unit_alpha_tag"] = call.UnitAlphaTag
	}

	// Talkgroup metadata: message-embedded fields first, directory
	// lookup fills the gaps.
	tg := TalkgroupInfo{
		AlphaTag:    call.TalkgroupAlphaTag,
		Tag:         call.TalkgroupTag,
		Group:       call.TalkgroupGroup,
		Description: call.TalkgroupDescription,
	}
	if n.enricher != nil && call.Talkgroup > 0 {
		if dir, ok := n.enricher.EnrichTalkgroup(ctx, call.SysName, call.Talkgroup); ok {
			if tg.AlphaTag == "" {
				tg.AlphaTag = dir.AlphaTag
			}
			if tg.Tag == "" {
				tg.Tag = dir.Tag
			}
			if tg.Group == "" {
				tg.Group = dir.Group
			}
			if tg.Description == "" {
				tg.Description = dir.Description
			}
		}
	}
	if tg.AlphaTag != "" {
		ev.Payload["talkgroup_alpha_tag"] = tg.AlphaTag
	}
	if tg.Tag != "" {
		ev.Payload["talkgroup_tag"] = tg.Tag
	}
	if tg.Group != "" {
		ev.Payload["talkgroup_group"] = tg.Group
	}
	if tg.Description != "" {
		ev.Payload["talkgroup_description"] = tg.Description
	}

	return ev, nil
}
