// Package record defines the report record shipped to the collection
// endpoint and the typed payloads it can carry.
package record

import (
	"encoding/json"
	"fmt"

	"github.com/szibis/pagewatch/internal/envinfo"
)

// Type is the top-level record category.
type Type string

const (
	TypeError       Type = "error"
	TypePerformance Type = "performance"
	TypeBehavior    Type = "behavior"
	TypeCustomEvent Type = "custom_event"
)

// Payload is the type-specific body of a record. Kind reports the record type
// and subtype the payload belongs to; the subtype is the discriminator.
type Payload interface {
	Kind() (Type, string)
}

// Record is one enqueued telemetry item. Records are immutable once they have
// been handed to the delivery queue.
type Record struct {
	ID        string          `json:"id"`
	AppID     string          `json:"appId"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId"`
	Type      Type            `json:"type"`
	SubType   string          `json:"subType,omitempty"`
	Timestamp int64           `json:"timestamp"`
	PageURL   string          `json:"pageUrl"`
	Browser   envinfo.Browser `json:"browser"`
	Device    envinfo.Device  `json:"device"`
	Payload   Payload         `json:"payload"`
}

// EventName returns the bus event names a record is emitted under: its type,
// then "type:subType" when a subtype is set.
func (r *Record) EventName() (string, string) {
	if r.SubType == "" {
		return string(r.Type), ""
	}
	return string(r.Type), string(r.Type) + ":" + r.SubType
}

type wireRecord struct {
	ID        string          `json:"id"`
	AppID     string          `json:"appId"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId"`
	Type      Type            `json:"type"`
	SubType   string          `json:"subType,omitempty"`
	Timestamp int64           `json:"timestamp"`
	PageURL   string          `json:"pageUrl"`
	Browser   envinfo.Browser `json:"browser"`
	Device    envinfo.Device  `json:"device"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the payload into the concrete type selected by the
// record's type and subtype. Unknown kinds decode into *Raw.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{
		ID: w.ID, AppID: w.AppID, UserID: w.UserID, SessionID: w.SessionID,
		Type: w.Type, SubType: w.SubType, Timestamp: w.Timestamp,
		PageURL: w.PageURL, Browser: w.Browser, Device: w.Device,
	}
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil
	}
	p := NewPayload(w.Type, w.SubType)
	if err := json.Unmarshal(w.Payload, p); err != nil {
		return fmt.Errorf("decode %s/%s payload: %w", w.Type, w.SubType, err)
	}
	r.Payload = p
	return nil
}

// DecodeBatch parses a JSON array of records as produced by the reporter.
func DecodeBatch(data []byte) ([]*Record, error) {
	var batch []*Record
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// NewPayload returns an empty payload for the given kind, ready to be
// unmarshalled into.
func NewPayload(t Type, subType string) Payload {
	switch t {
	case TypeError:
		switch subType {
		case SubJS:
			return &JSError{}
		case SubPromise:
			return &PromiseRejection{}
		case SubResource:
			return &ResourceError{}
		case SubHTTP:
			return &HTTPError{}
		case SubManual:
			return &ManualError{}
		case SubVue, SubReact:
			return &FrameworkError{Framework: subType}
		}
	case TypePerformance:
		switch subType {
		case SubPageLoad:
			return &PageLoad{}
		case SubResource:
			return &ResourceTiming{}
		case SubFirstPaint, SubFirstContentfulPaint:
			return &Paint{Name: subType}
		case SubLCP:
			return &LargestContentfulPaint{}
		case SubFirstScreen:
			return &FirstScreen{}
		case SubWhiteScreen:
			return &WhiteScreen{}
		case SubLongTaskSummary:
			return &LongTaskSummary{}
		}
	case TypeBehavior:
		switch subType {
		case SubClick:
			return &Click{}
		case SubPageChange:
			return &PageChange{}
		case SubPageView:
			return &PageView{}
		case SubUniqueVisitor:
			return &UniqueVisitor{}
		case SubStack:
			return &BehaviorStack{}
		default:
			return &Interaction{Action: subType}
		}
	case TypeCustomEvent:
		return &CustomEvent{}
	}
	return &Raw{Type: t, SubType: subType}
}
