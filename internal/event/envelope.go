package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type names one kind of envelope. The monitor recognizes a fixed vocabulary
// of transfer lifecycle and queue events; anything else is carried through as
// unknown for forward compatibility.
type Type string

// Wildcard matches every dispatched envelope when used as a subscription type.
const Wildcard Type = "*"

// Transfer lifecycle events.
const (
	TypeDownloadStart    Type = "download:start"
	TypeDownloadProgress Type = "download:progress"
	TypeDownloadComplete Type = "download:complete"
	TypeDownloadError    Type = "download:error"

	TypeUploadQueued    Type = "upload:queued"
	TypeUploadStart     Type = "upload:start"
	TypeUploadProgress  Type = "upload:progress"
	TypeUploadComplete  Type = "upload:complete"
	TypeUploadError     Type = "upload:error"
	TypeUploadPaused    Type = "upload:paused"
	TypeUploadResumed   Type = "upload:resumed"
	TypeUploadCancelled Type = "upload:cancelled"
)

// Queue events, forwarded to subscribers but not folded into progress entries.
const (
	TypeQueueUpdated Type = "queue:updated"
	TypeQueuePaused  Type = "queue:paused"
	TypeQueueResumed Type = "queue:resumed"
)

// Synthetic connection health events emitted locally by the stream connector.
const (
	TypeConnectionOpen     Type = "connection:open"
	TypeConnectionRetrying Type = "connection:retrying"
	TypeConnectionFailed   Type = "connection:failed"
	TypeConnectionClosed   Type = "connection:closed"
)

// Family groups transfer lifecycle events by operation kind.
type Family string

// Supported transfer families.
const (
	FamilyDownload Family = "download"
	FamilyUpload   Family = "upload"
)

// Kind is the coarse payload tag for an envelope type.
type Kind int

// Supported payload kinds.
const (
	KindUnknown Kind = iota
	KindTransfer
	KindQueue
	KindConnection
)

// Kind classifies the envelope type into its payload tag.
func (t Type) Kind() Kind {
	switch t {
	case TypeDownloadStart, TypeDownloadProgress, TypeDownloadComplete, TypeDownloadError,
		TypeUploadQueued, TypeUploadStart, TypeUploadProgress, TypeUploadComplete,
		TypeUploadError, TypeUploadPaused, TypeUploadResumed, TypeUploadCancelled:
		return KindTransfer
	case TypeQueueUpdated, TypeQueuePaused, TypeQueueResumed:
		return KindQueue
	case TypeConnectionOpen, TypeConnectionRetrying, TypeConnectionFailed, TypeConnectionClosed:
		return KindConnection
	default:
		return KindUnknown
	}
}

// Family returns the transfer family for transfer events; ok is false for
// every other kind.
func (t Type) Family() (Family, bool) {
	if t.Kind() != KindTransfer {
		return "", false
	}
	prefix, _, _ := strings.Cut(string(t), ":")
	return Family(prefix), true
}

// Subtype returns the portion after the family prefix, e.g. "progress" for
// "download:progress". Types without a colon return themselves.
func (t Type) Subtype() string {
	_, sub, found := strings.Cut(string(t), ":")
	if !found {
		return string(t)
	}
	return sub
}

// ErrMalformedEnvelope reports an inbound frame that could not be decoded
// into an envelope. The connector drops such frames without touching the
// connection state.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one decoded transport frame: a type tag plus the event payload.
// Data holds the raw payload object; typed access goes through Transfer.
type Envelope struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data"`
}

// Decode parses raw as an envelope. It fails when the frame is not a JSON
// object, the type tag is missing, or data is present but not an object.
func Decode(raw []byte) (Envelope, error) {
	var wire struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if wire.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	env := Envelope{Type: Type(wire.Type)}
	if len(wire.Data) > 0 && string(wire.Data) != "null" {
		if err := json.Unmarshal(wire.Data, &env.Data); err != nil {
			return Envelope{}, fmt.Errorf("%w: data is not an object: %v", ErrMalformedEnvelope, err)
		}
	}
	return env, nil
}

// Keys checked, in order, when extracting the operation id from a payload.
var operationIDKeys = []string{"videoId", "transferId", "operationId", "id"}

// TransferPayload is the typed view of a transfer lifecycle envelope.
// Optional fields are nil when the originating event omitted them; Fields
// retains the full payload for pass-through merging.
type TransferPayload struct {
	OperationID string
	Percent     *float64
	Speed       *float64
	ETA         *float64
	Fields      map[string]any
}

// Transfer extracts the typed transfer payload. It returns ok=false when the
// envelope is not a transfer event or carries no operation id.
func (e Envelope) Transfer() (TransferPayload, bool) {
	if e.Type.Kind() != KindTransfer {
		return TransferPayload{}, false
	}
	id, ok := e.OperationID()
	if !ok {
		return TransferPayload{}, false
	}
	return TransferPayload{
		OperationID: id,
		Percent:     floatField(e.Data, "percent"),
		Speed:       floatField(e.Data, "speed"),
		ETA:         floatField(e.Data, "eta"),
		Fields:      e.Data,
	}, true
}

// OperationID extracts the operation identifier from the payload, trying the
// known id keys in order.
func (e Envelope) OperationID() (string, bool) {
	for _, key := range operationIDKeys {
		if v, ok := e.Data[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func floatField(data map[string]any, key string) *float64 {
	v, ok := data[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	}
	return nil
}
