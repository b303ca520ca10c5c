package models

import (
	"encoding/json"
	"time"
)

// TripProperties identifies the trip a survey answer concerns.
type TripProperties struct {
	StartTs float64 `json:"start_ts"`
	EndTs   float64 `json:"end_ts"`
}

// Same reports whether both timestamps are exactly equal.
func (t TripProperties) Same(o TripProperties) bool {
	return t.StartTs == o.StartTs && t.EndTs == o.EndTs
}

// StoredAnswer is a survey answer persisted under a data key. Several may exist
// per key, one per trip.
type StoredAnswer struct {
	Data           string          `json:"data"`
	TripProperties *TripProperties `json:"trip_properties"`
}

// SessionContext is the session object passed when a survey form is opened.
// Raw keeps every field the caller sent so it can be handed to the form engine untouched.
type SessionContext struct {
	DataKey        string          `json:"data_key,omitempty"`
	TripProperties *TripProperties `json:"trip_properties,omitempty"`
	Raw            map[string]any  `json:"-"`
}

// Message is the message-store envelope. Data holds the JSON payload.
type Message struct {
	ID      string          `json:"id"`
	Key     string          `json:"key"`
	Data    json.RawMessage `json:"data"`
	WriteTs float64         `json:"write_ts"`
	Deleted bool            `json:"deleted,omitempty"`
}

// AppConfig is the study configuration downloaded when a user joins.
type AppConfig struct {
	Version   int             `json:"version,omitempty"`
	StudyName string          `json:"study_name,omitempty"`
	Server    *ServerConn     `json:"server,omitempty"`
	Survey    json.RawMessage `json:"survey_info,omitempty"`
	Joined    *JoinedInfo     `json:"joined,omitempty"`
}

// ServerConn points at the study's backend.
type ServerConn struct {
	ConnectURL string `json:"connectUrl"`
}

// JoinedInfo records how the device joined the study.
type JoinedInfo struct {
	Opcode    string    `json:"opcode"`
	ConfigURL string    `json:"config_url,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// ConsentState is the locally stored record of the protocol a user approved.
type ConsentState struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	ApprovalDate string    `json:"approval_date"`
	SignedAt     time.Time `json:"signed_at"`
	Hash         string    `json:"hash,omitempty"`
}
