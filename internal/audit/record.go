// Package audit records sensitive device operations in two append-only,
// date-partitioned streams.
//
// The shadow stream is encrypted per line with AES-256-GCM. Every line carries
// its own random nonce and authentication tag, so a single flipped bit is
// detected when the line is read back. The public stream is plain JSON for
// operational visibility.
//
// Records are never rewritten. Retention removes whole files only.
package audit

import (
	"time"
)

// Stream names a log stream.
type Stream string

const (
	StreamShadow Stream = "shadow"
	StreamPublic Stream = "public"
)

// Record is one audited action. Metadata is free-form and is stored as-is.
type Record struct {
	ID            string         `json:"id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Operation     string         `json:"operation"`
	DeviceSerial  string         `json:"deviceSerial,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	Authorization string         `json:"authorization,omitempty"`
	Success       bool           `json:"success"`
	DurationMS    *int64         `json:"durationMs,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ShadowEntry is one line read back from a shadow file. Error is set, and
// Record left empty, when the line could not be decrypted or decoded.
type ShadowEntry struct {
	Line   int    `json:"line"`
	Record Record `json:"record"`
	Error  string `json:"error,omitempty"`
}

// Filter narrows GetShadowLogs. Zero values mean "no constraint" except
// Limit, which falls back to DefaultQueryLimit.
type Filter struct {
	DeviceSerial string
	Operation    string
	From         time.Time
	To           time.Time
	Limit        int
}

// DefaultQueryLimit caps GetShadowLogs when the filter sets no limit.
const DefaultQueryLimit = 100

// Analytics summarises shadow records over a date range.
type Analytics struct {
	From               time.Time      `json:"from"`
	To                 time.Time      `json:"to"`
	TotalOperations    int            `json:"totalOperations"`
	OperationCounts    map[string]int `json:"operationCounts"`
	Succeeded          int            `json:"succeeded"`
	Failed             int            `json:"failed"`
	SuccessRate        float64        `json:"successRate"`
	DistinctDevices    int            `json:"distinctDevices"`
	AverageDurationMS  float64        `json:"averageDurationMs"`
	UndecryptableLines int            `json:"undecryptableLines"`
}

// Retention is the number of days each stream is kept. Zero disables pruning
// for that stream.
type Retention struct {
	ShadowDays int
	PublicDays int
}

// DefaultRetention keeps shadow logs for a year and public logs for a month.
var DefaultRetention = Retention{ShadowDays: 365, PublicDays: 30}
