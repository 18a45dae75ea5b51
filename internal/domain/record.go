package domain

import (
	"strings"

	"github.com/goccy/go-json"
)

// Record is one clinical resource in transit. The payload is forwarded
// verbatim; this service never interprets it beyond identity and the
// subject pointer. Identity is (Type, ID).
type Record struct {
	Type    string
	ID      string
	Payload json.RawMessage
}

// Identity returns the "Type/id" form used in logs and delivery paths.
func (r Record) Identity() string {
	return r.Type + "/" + r.ID
}

// subjectEnvelope is the minimal slice of a resource needed to follow
// its subject pointer ("subject": {"reference": "Patient/pat-1"}).
type subjectEnvelope struct {
	Subject struct {
		Reference string `json:"reference"`
	} `json:"subject"`
}

// SubjectReference extracts the subject pointer from the record payload.
// The returned value is the bare reference path (e.g. "Patient/pat-1"),
// a lookup key only. ok is false when the payload carries no subject.
func (r Record) SubjectReference() (ref string, ok bool) {
	if len(r.Payload) == 0 {
		return "", false
	}
	var env subjectEnvelope
	if err := json.Unmarshal(r.Payload, &env); err != nil {
		return "", false
	}
	ref = strings.TrimSpace(env.Subject.Reference)
	if ref == "" {
		return "", false
	}
	return ref, true
}

// ParseRecord decodes a raw resource document into a Record, reading the
// resourceType and id fields and keeping the full document as the payload.
func ParseRecord(raw json.RawMessage) (Record, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Record{}, err
	}
	return Record{Type: head.ResourceType, ID: head.ID, Payload: raw}, nil
}
