package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// framePrefix marks the only lines of a stream that carry events.
const framePrefix = "data: "

// frame is the JSON payload of a single data line.
type frame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decoder turns stream bytes delivered at arbitrary boundaries into events.
// Its only state is the unterminated tail of the last chunk.
type Decoder struct {
	carry []byte
	warn  func(*DecodeWarning)
}

// NewDecoder creates a Decoder. Skipped frames are passed to warn; a nil warn
// logs them through slog.
func NewDecoder(warn func(*DecodeWarning)) *Decoder {
	if warn == nil {
		warn = func(w *DecodeWarning) {
			slog.Warn("failed to parse stream frame", "line", w.Line, "error", w.Err)
		}
	}
	return &Decoder{warn: warn}
}

// Feed appends chunk to the carried-over bytes and returns the events of
// every line completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	d.carry = append(d.carry, chunk...)

	var events []Event
	rest := d.carry
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		if ev, ok := d.decodeLine(rest[:i]); ok {
			events = append(events, ev)
		}
		rest = rest[i+1:]
	}

	// Keep the tail in a fresh slice so the consumed prefix can be collected.
	d.carry = append([]byte(nil), rest...)
	return events
}

// Finish drops any unterminated line. A half-written frame is never an event.
func (d *Decoder) Finish() {
	if len(d.carry) > 0 {
		slog.Debug("discarding unterminated stream line", "bytes", len(d.carry))
	}
	d.carry = nil
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (d *Decoder) Pending() int {
	return len(d.carry)
}

func (d *Decoder) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(framePrefix)) {
		return Event{}, false
	}
	payload := line[len(framePrefix):]

	ev, err := decodeFrame(payload)
	if err != nil {
		d.warn(&DecodeWarning{Line: string(line), Err: err})
		return Event{}, false
	}
	return ev, true
}

func decodeFrame(payload []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Event{}, fmt.Errorf("parse frame: %w", err)
	}

	switch f.Type {
	case EventSourceDocuments:
		var refs []WorkflowRef
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &refs); err != nil {
				return Event{}, fmt.Errorf("parse source documents: %w", err)
			}
		}
		if refs == nil {
			refs = []WorkflowRef{}
		}
		return Event{Type: EventSourceDocuments, Workflows: refs}, nil

	case EventContent:
		var delta string
		if err := json.Unmarshal(f.Data, &delta); err != nil {
			return Event{}, fmt.Errorf("parse content: %w", err)
		}
		return Event{Type: EventContent, Delta: delta}, nil

	case EventDone:
		return Event{Type: EventDone}, nil

	case "":
		return Event{}, errors.New("frame has no type")

	default:
		return Event{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}
