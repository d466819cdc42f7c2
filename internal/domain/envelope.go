package domain

import (
	"encoding/json"
	"fmt"

	"agentlink/internal/address"
)

// Protocol is the envelope protocol tag.
const Protocol = "hcs-10"

// Envelope operations.
const (
	OpRegister          = "register"
	OpConnectionRequest = "connection_request"
	OpConnectionCreated = "connection_created"
	OpMessage           = "message"
)

// Envelope is the JSON document appended to protocol topics. Only the fields
// relevant to Op are populated.
type Envelope struct {
	Protocol                 string `json:"p"`
	Op                       string `json:"op"`
	AccountID                string `json:"account_id,omitempty"`
	OperatorID               string `json:"operator_id,omitempty"`
	ConnectionTopicID        string `json:"connection_topic_id,omitempty"`
	ConnectedAccountID       string `json:"connected_account_id,omitempty"`
	OutboundTopicID          string `json:"outbound_topic_id,omitempty"`
	RequestorOutboundTopicID string `json:"requestor_outbound_topic_id,omitempty"`
	Data                     string `json:"data,omitempty"`
	Memo                     string `json:"m,omitempty"`

	// SequenceNumber is filled in when the envelope was read from a topic.
	SequenceNumber uint64 `json:"-"`
}

type envelopeAlias Envelope

// MarshalJSON always emits data on message envelopes, even when empty.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Op != OpMessage {
		return json.Marshal(envelopeAlias(e))
	}
	return json.Marshal(struct {
		envelopeAlias
		Data string `json:"data"`
	}{envelopeAlias: envelopeAlias(e), Data: e.Data})
}

// UnmarshalJSON also accepts the long "protocol" field name.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var wire struct {
		envelopeAlias
		ProtocolLong string `json:"protocol"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*e = Envelope(wire.envelopeAlias)
	if e.Protocol == "" {
		e.Protocol = wire.ProtocolLong
	}
	return nil
}

// Encode serializes the envelope for submission.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a topic payload. It fails on invalid JSON, a foreign
// protocol tag or a missing op.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Protocol != Protocol {
		return Envelope{}, fmt.Errorf("decode envelope: unexpected protocol %q", e.Protocol)
	}
	if e.Op == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing op")
	}
	return e, nil
}

// Operator decodes the envelope's operator reference.
func (e Envelope) Operator() (address.OperatorRef, error) {
	return address.ParseOperator(e.OperatorID)
}

// DataKind distinguishes inline message data from object locators.
type DataKind string

const (
	DataInline  DataKind = "inline"
	DataLocator DataKind = "locator"
)

// MessageData is the polymorphic data field of a message envelope.
type MessageData struct {
	Kind    DataKind `json:"kind"`
	Text    string   `json:"text,omitempty"`
	TopicID string   `json:"topicId,omitempty"`
}

// ClassifyData returns the variant held by a raw data field.
func ClassifyData(data string) MessageData {
	if id, ok := address.ParseLocator(data); ok {
		return MessageData{Kind: DataLocator, TopicID: id}
	}
	return MessageData{Kind: DataInline, Text: data}
}

// Payload classifies the envelope's data field.
func (e Envelope) Payload() MessageData {
	return ClassifyData(e.Data)
}
