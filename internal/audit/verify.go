package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is the result of an integrity verification pass.
type Report struct {
	Valid      bool     `json:"valid"`
	Entries    int      `json:"entries"`
	Errors     []string `json:"errors,omitempty"`
	FirstEntry string   `json:"first_entry,omitempty"`
	LastEntry  string   `json:"last_entry,omitempty"`
	// FirstBadEntry is the 1-based sequence of the first divergent entry, or 0.
	FirstBadEntry int `json:"first_bad_entry,omitempty"`
}

// VerifyIntegrity replays the chain from the start, recomputing each entry's
// hash and linkage. Pure scan: it never repairs or rewrites anything. A chain
// mismatch is fatal to callers; auto-repair would defeat the tamper evidence.
func (t *Trail) VerifyIntegrity() (Report, error) {
	entries, err := t.Entries()
	if err != nil {
		return Report{}, err
	}
	if len(entries) == 0 {
		return Report{Valid: true}, nil
	}

	report := Report{
		Entries:    len(entries),
		FirstEntry: entries[0].Timestamp,
		LastEntry:  entries[len(entries)-1].Timestamp,
	}

	previousHash := Genesis
	for i, entry := range entries {
		n := i + 1
		if entry.PreviousHash != previousHash {
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d: previous_hash does not match prior entry", n))
		}

		payload, err := canonicalPayload(entry)
		if err != nil {
			return Report{}, err
		}
		if entry.EntryHash != t.sign(payload) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d: entry_hash does not match content", n))
		} else if entry.Checksum != t.sign(entry.PreviousHash+":"+payload) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d: checksum does not match chain", n))
		}

		if len(report.Errors) > 0 && report.FirstBadEntry == 0 {
			report.FirstBadEntry = n
		}
		previousHash = entry.EntryHash
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// Export filters the chain and writes it with a fresh integrity result for an
// external auditor. Returns the number of exported entries.
func (t *Trail) Export(outPath string, since time.Time, eventTypes []string) (int, error) {
	entries, err := t.Entries()
	if err != nil {
		return 0, err
	}

	typeFilter := make(map[string]bool, len(eventTypes))
	for _, et := range eventTypes {
		typeFilter[et] = true
	}

	var filtered []Entry
	for _, e := range entries {
		if !since.IsZero() {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		if len(typeFilter) > 0 && !typeFilter[e.EventType] {
			continue
		}
		filtered = append(filtered, e)
	}

	integrity, err := t.VerifyIntegrity()
	if err != nil {
		return 0, err
	}

	export := struct {
		ExportTimestamp string  `json:"export_timestamp"`
		TotalEntries    int     `json:"total_entries"`
		IntegrityCheck  Report  `json:"integrity_check"`
		Entries         []Entry `json:"entries"`
	}{
		ExportTimestamp: time.Now().UTC().Format(time.RFC3339),
		TotalEntries:    len(filtered),
		IntegrityCheck:  integrity,
		Entries:         filtered,
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("ensure export dir: %w", err)
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal export: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(filtered), nil
}

// EntriesSince returns entries newer than the cutoff, for the show command.
func (t *Trail) EntriesSince(since time.Time) ([]Entry, error) {
	entries, err := t.Entries()
	if err != nil {
		return nil, err
	}
	var recent []Entry
	for _, e := range entries {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			continue
		}
		if !ts.Before(since) {
			recent = append(recent, e)
		}
	}
	return recent, nil
}
