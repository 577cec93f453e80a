package juggernaut

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame codec — splits the inbound byte stream into NUL-delimited frames and
// decodes the JSON envelope. Bytes after the last NUL stay buffered until the
// rest of the frame arrives.
// ---------------------------------------------------------------------------

// policyRequest is the literal Flash policy handshake. It is matched before
// JSON decoding and answered with policyFile, after which the connection is
// closed.
const policyRequest = "<policy-file-request/>"

const policyFile = `<cross-domain-policy><allow-access-from domain="*" to-ports="%d" /></cross-domain-policy>`

func policyResponse(publicPort int) []byte {
	return []byte(fmt.Sprintf(policyFile, publicPort))
}

// frameBuffer accumulates partial-frame residue between reads.
type frameBuffer struct {
	buf []byte
}

// Append adds a chunk of transport bytes and returns every complete frame,
// trimmed of surrounding whitespace, in arrival order. Frames may be empty;
// the dispatcher rejects those as InvalidRequest.
func (b *frameBuffer) Append(data []byte) [][]byte {
	b.buf = append(b.buf, data...)

	last := bytes.LastIndexByte(b.buf, 0)
	if last < 0 {
		return nil
	}

	complete := b.buf[:last]
	// Residue gets a fresh backing array: the returned frames alias the old
	// one and must survive the next Append.
	b.buf = append([]byte(nil), b.buf[last+1:]...)

	var frames [][]byte
	for _, frame := range bytes.Split(complete, []byte{0}) {
		frames = append(frames, bytes.TrimSpace(frame))
	}
	return frames
}

// request is the decoded inbound envelope. Channel and id lists are
// sanitized (blanks removed, duplicates removed, order preserved) before the
// dispatcher sees them.
type request struct {
	Command   string          `json:"command"`
	Type      string          `json:"type"`
	Channels  []string        `json:"channels"`
	ClientID  string          `json:"client_id"`
	ClientIDs []string        `json:"client_ids"`
	SessionID string          `json:"session_id"`
	Body      json.RawMessage `json:"body"`
	SecretKey string          `json:"secret_key"`
}

// decodeRequest parses one frame into a request. A frame that is empty or is
// valid JSON but not an object is InvalidRequest; anything that fails to
// parse at all is CorruptJSON.
func decodeRequest(frame []byte) (*request, *Error) {
	if len(frame) == 0 {
		return nil, newError(InvalidRequest, "")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return nil, newError(InvalidRequest, string(frame))
		}
		return nil, newError(CorruptJSON, string(frame))
	}
	if raw == nil {
		// The literal "null".
		return nil, newError(InvalidRequest, string(frame))
	}

	req := new(request)
	if err := json.Unmarshal(frame, req); err != nil {
		return nil, newError(InvalidRequest, string(frame))
	}

	req.Channels = sanitizeList(req.Channels)
	if req.ClientIDs != nil {
		req.ClientIDs = sanitizeList(req.ClientIDs)
	}
	return req, nil
}

// sanitizeList drops blank entries and duplicates, preserving first-seen
// order. JSON nulls inside a string array decode to "" and are dropped with
// the blanks.
func sanitizeList(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
