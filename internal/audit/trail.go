// Package audit implements the append-only, hash-chained audit trail. Every
// governance-relevant event lands here; integrity verification replays the
// chain and pinpoints the first divergent entry.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Genesis is the previous-hash sentinel for the first entry.
const Genesis = "GENESIS"

// Severity levels for audit entries.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// EventDescriptions is the closed vocabulary of auditable event types.
var EventDescriptions = map[string]string{
	"plan_created":     "Plan created",
	"plan_approved":    "Plan step approved by HITL",
	"plan_rejected":    "Plan step rejected by HITL",
	"plan_executed":    "Plan executed",
	"step_executed":    "Step executed",
	"file_modified":    "File modified",
	"file_created":     "File created",
	"file_deleted":     "File deleted",
	"security_block":   "Security block",
	"commit_blocked":   "Commit blocked",
	"secret_detected":  "Secret detected",
	"config_changed":   "Configuration changed",
	"webhook_sent":     "Webhook sent",
	"user_action":      "User action",
	"phase_started":    "Pipeline phase started",
	"phase_completed":  "Pipeline phase completed",
	"phase_halted":     "Pipeline phase halted",
	"approval_expired": "HITL approval expired",
}

// Entry is one immutable audit record. entry_hash covers every field except
// entry_hash and checksum themselves; previous_hash chains it to its
// predecessor.
type Entry struct {
	Sequence         int             `json:"sequence"`
	Timestamp        string          `json:"timestamp"`
	EventType        string          `json:"event_type"`
	EventDescription string          `json:"event_description"`
	Actor            string          `json:"actor"`
	Severity         string          `json:"severity"`
	Details          json.RawMessage `json:"details"`
	PreviousHash     string          `json:"previous_hash"`
	Hostname         string          `json:"hostname"`
	EntryHash        string          `json:"entry_hash"`
	Checksum         string          `json:"checksum"`
}

// Trail is an append-only hash-chained log bound to one file. The single mutex
// serializes read-tail-then-append; the chain has one logical tail, so no
// finer-grained locking is safe.
type Trail struct {
	path     string
	key      []byte
	hostname string
	mu       sync.Mutex
	now      func() time.Time
}

// NewTrail returns a trail writing to path, signing entries with key.
func NewTrail(path, signingKey string) *Trail {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return &Trail{
		path:     path,
		key:      []byte(signingKey),
		hostname: host,
		now:      time.Now,
	}
}

// Append assembles, signs and writes the next entry, returning it.
func (t *Trail) Append(eventType string, details any, actor, severity string) (Entry, error) {
	detailJSON, err := json.Marshal(details)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit details: %w", err)
	}
	if severity == "" {
		severity = SeverityInfo
	}
	if actor == "" {
		actor = "system"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	previousHash, sequence, err := t.tail()
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Sequence:         sequence + 1,
		Timestamp:        t.now().UTC().Format(time.RFC3339Nano),
		EventType:        eventType,
		EventDescription: describe(eventType),
		Actor:            actor,
		Severity:         severity,
		Details:          detailJSON,
		PreviousHash:     previousHash,
		Hostname:         t.hostname,
	}

	payload, err := canonicalPayload(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.EntryHash = t.sign(payload)
	entry.Checksum = t.sign(entry.PreviousHash + ":" + payload)

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return Entry{}, fmt.Errorf("ensure audit dir: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit entry: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// Entries reads the whole trail. Consumers tolerate a possibly-open trailing
// write by skipping an unparseable final line.
func (t *Trail) Entries() ([]Entry, error) {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Tolerate a torn trailing write; anything else is corruption the
			// integrity check will surface.
			entries = append(entries, Entry{Sequence: len(entries) + 1})
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}

func (t *Trail) tail() (string, int, error) {
	entries, err := t.Entries()
	if err != nil {
		return "", 0, err
	}
	if len(entries) == 0 {
		return Genesis, 0, nil
	}
	last := entries[len(entries)-1]
	if last.EntryHash == "" {
		return Genesis, len(entries), nil
	}
	return last.EntryHash, len(entries), nil
}

func (t *Trail) sign(data string) string {
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// canonicalPayload serializes the entry with sorted keys, excluding the
// self-referential hash fields.
func canonicalPayload(e Entry) (string, error) {
	details := e.Details
	if details == nil {
		details = json.RawMessage("null")
	}
	payload := map[string]any{
		"sequence":          e.Sequence,
		"timestamp":         e.Timestamp,
		"event_type":        e.EventType,
		"event_description": e.EventDescription,
		"actor":             e.Actor,
		"severity":          e.Severity,
		"details":           details,
		"previous_hash":     e.PreviousHash,
		"hostname":          e.Hostname,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	return string(data), nil
}

func describe(eventType string) string {
	if desc, ok := EventDescriptions[eventType]; ok {
		return desc
	}
	return eventType
}
