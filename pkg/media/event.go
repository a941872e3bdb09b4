package media

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/telescribe/telescribe/pkg/errorsx"
)

// EventType enumerates the inbound stream control events.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
)

// ErrUnknownEvent marks payloads that are not part of the stream protocol.
var ErrUnknownEvent = errors.New("unknown stream event")

// Event is a validated inbound stream event. Exactly the fields for the
// event's Type are populated; everything else is zero.
type Event struct {
	Type     EventType
	StreamID string
	Seq      uint64 // media only
	Payload  []byte // media only, decoded from base64
	Format   Format // start only
	Reason   string // stop only
}

type wireEvent struct {
	Event          string        `json:"event"`
	Protocol       string        `json:"protocol,omitempty"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *wireStart    `json:"start,omitempty"`
	Media          *wireMedia    `json:"media,omitempty"`
	Stop           *wireStop     `json:"stop,omitempty"`
}

type wireStart struct {
	StreamSID   string      `json:"streamSid"`
	MediaFormat *wireFormat `json:"mediaFormat"`
}

type wireFormat struct {
	Encoding   string `json:"encoding"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sampleRate"`
}

type wireMedia struct {
	Payload string `json:"payload"`
}

type wireStop struct {
	Reason string `json:"reason,omitempty"`
}

// ParseEvent decodes and validates an inbound stream event. It fails closed:
// missing or mismatched fields reject the event instead of producing a
// half-populated one. Errors carry reason codes so callers can distinguish
// a droppable chunk from a fatal format declaration.
func ParseEvent(raw []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return Event{}, errorsx.Wrap(err, errorsx.ReasonMediaPayload)
	}
	switch we.Event {
	case string(EventConnected):
		if !strings.EqualFold(we.Protocol, "Call") {
			return Event{}, fmt.Errorf("%w: connected with protocol %q", ErrUnknownEvent, we.Protocol)
		}
		return Event{Type: EventConnected}, nil

	case string(EventStart):
		if we.Start == nil {
			return Event{}, errorsx.Wrap(errors.New("start event missing body"), errorsx.ReasonMediaFormat)
		}
		// The declared format is passed through unvalidated; the session
		// decides whether it can decode it and tears the call down if not.
		var format Format
		if we.Start.MediaFormat != nil {
			format = Format{
				Encoding:   we.Start.MediaFormat.Encoding,
				Channels:   we.Start.MediaFormat.Channels,
				SampleRate: we.Start.MediaFormat.SampleRate,
			}
		}
		return Event{Type: EventStart, StreamID: we.Start.StreamSID, Format: format}, nil

	case string(EventMedia):
		seq, err := strconv.ParseUint(strings.TrimSpace(we.SequenceNumber), 10, 64)
		if err != nil {
			return Event{}, errorsx.Wrap(fmt.Errorf("sequence number %q: %w", we.SequenceNumber, err), errorsx.ReasonMediaSequence)
		}
		if we.Media == nil || we.Media.Payload == "" {
			return Event{}, errorsx.Wrap(errors.New("media event missing payload"), errorsx.ReasonMediaPayload)
		}
		payload, err := base64.StdEncoding.DecodeString(we.Media.Payload)
		if err != nil {
			return Event{}, errorsx.Wrap(err, errorsx.ReasonMediaPayload)
		}
		return Event{Type: EventMedia, Seq: seq, Payload: payload}, nil

	case string(EventStop):
		reason := ""
		if we.Stop != nil {
			reason = we.Stop.Reason
		}
		return Event{Type: EventStop, StreamID: we.StreamSID, Reason: reason}, nil

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, we.Event)
	}
}
