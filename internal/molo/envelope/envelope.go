// Package envelope parses the inbound message payloads Molo accepts and
// renders the reply payloads it returns.
//
// Two wire shapes are supported and detected automatically:
//
//   - direct: {"sender_id": "...", "text": "..."} or the legacy Twilio-style
//     field names {"From": "...", "Body": "..."}
//   - enveloped (n8n): {"message": {"from": "...", "body": "..."}}
//
// Whatever the inbound shape, replies are rendered as
// {"reply_to": "...", "reply_text": "..."}; the gateway integration consumes
// this single response shape for both formats.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind tags which wire shape an inbound payload used.
type Kind string

const (
	// KindDirect is the flat {sender_id, text} / {From, Body} shape.
	KindDirect Kind = "direct"
	// KindEnveloped is the nested n8n {message: {from, body}} shape.
	KindEnveloped Kind = "enveloped"
)

// PlaceholderRecipient is the reply_to value used when the sender cannot be
// determined from a malformed payload.
const PlaceholderRecipient = "unknown"

// ApologyText is the fixed user-facing text returned for any payload that
// cannot be parsed. Unparseable input never surfaces a protocol-level error.
const ApologyText = "Sorry, I couldn't process your message. Please try again."

// Inbound is the canonical internal form of an accepted payload.
type Inbound struct {
	// ExternalID is the opaque, stable sender identifier.
	ExternalID string
	// Text is the raw message text (untrimmed).
	Text string
	// Kind records which wire shape the payload arrived in.
	Kind Kind
}

// Reply is the outbound payload shape.
type Reply struct {
	ReplyTo   string `json:"reply_to"`
	ReplyText string `json:"reply_text"`
}

// schema loosely types the union of accepted shapes. It rejects payloads
// whose fields exist with the wrong type (e.g. a numeric sender_id) while
// leaving presence checks to the extraction step.
var schema = jsonschema.MustCompileString("inbound.json", `{
	"type": "object",
	"properties": {
		"sender_id": {"type": "string"},
		"text":      {"type": "string"},
		"From":      {"type": "string"},
		"Body":      {"type": "string"},
		"message": {
			"type": "object",
			"properties": {
				"from": {"type": "string"},
				"body": {"type": "string"}
			}
		}
	}
}`)

// Parse decodes and validates a raw inbound payload into its canonical form.
//
// An error means the payload is malformed (not JSON, schema violation, or no
// recoverable sender); callers must degrade to the fixed apology reply, never
// propagate the error to the transport.
func Parse(raw []byte) (*Inbound, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("envelope: validate: %w", err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("envelope: payload is not an object")
	}

	in := &Inbound{Kind: KindDirect}
	if msg, ok := obj["message"].(map[string]any); ok {
		in.Kind = KindEnveloped
		in.ExternalID, _ = msg["from"].(string)
		in.Text, _ = msg["body"].(string)
	} else {
		if v, ok := obj["sender_id"].(string); ok {
			in.ExternalID = v
		} else if v, ok := obj["From"].(string); ok {
			in.ExternalID = v
		}
		if v, ok := obj["text"].(string); ok {
			in.Text = v
		} else if v, ok := obj["Body"].(string); ok {
			in.Text = v
		}
	}

	if in.ExternalID == "" {
		return nil, fmt.Errorf("envelope: no sender in payload")
	}
	return in, nil
}

// MarshalReply renders the outbound payload for the given recipient and text.
func MarshalReply(to, text string) []byte {
	out, err := json.Marshal(Reply{ReplyTo: to, ReplyText: text})
	if err != nil {
		// Reply holds two plain strings; marshalling cannot fail.
		panic(fmt.Sprintf("envelope: marshal reply: %v", err))
	}
	return out
}

// Apology renders the fixed degraded reply for unparseable input.
func Apology() []byte {
	return MarshalReply(PlaceholderRecipient, ApologyText)
}
