package events

import (
	"encoding/json"
)

// InboundKind enumerates the recognized inbound message kinds. Anything
// the decoder does not recognize maps to InboundUnknown, which carries
// the raw payload for the echo fallback.
type InboundKind int

const (
	InboundUnknown InboundKind = iota
	InboundPing
	InboundSubscribe
	InboundUnsubscribe
	InboundGetStatus
)

// Inbound is the decoded form of a client control message. Decoding
// happens exactly once, at the transport boundary.
type Inbound struct {
	Kind   InboundKind
	JobID  string
	Domain string
	Raw    json.RawMessage
}

// inboundEnvelope mirrors the JSON shape of client messages
type inboundEnvelope struct {
	Type   string `json:"type"`
	JobID  string `json:"job_id"`
	Domain string `json:"domain"`
}

// DecodeInbound parses a raw client message into the closed inbound
// union. Malformed JSON and unrecognized types both yield an
// InboundUnknown carrying the original bytes.
func DecodeInbound(data []byte) Inbound {
	raw := json.RawMessage(append([]byte(nil), data...))

	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{Kind: InboundUnknown, Raw: raw}
	}

	switch env.Type {
	case "ping":
		return Inbound{Kind: InboundPing, Raw: raw}
	case "subscribe", "subscribe_job":
		return Inbound{Kind: InboundSubscribe, JobID: env.JobID, Domain: env.Domain, Raw: raw}
	case "unsubscribe":
		return Inbound{Kind: InboundUnsubscribe, JobID: env.JobID, Raw: raw}
	case "get_status":
		return Inbound{Kind: InboundGetStatus, JobID: env.JobID, Raw: raw}
	default:
		return Inbound{Kind: InboundUnknown, Raw: raw}
	}
}
