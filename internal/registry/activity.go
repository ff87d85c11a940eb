package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/pslog"
)

// DefaultActivityLogCapacity bounds the activity log ring buffer.
const DefaultActivityLogCapacity = 100

const activityFileName = "activity.json"

// ActivityEntry records one tool invocation attempt, gated on nothing: the
// entry is appended whether or not the call later succeeds.
type ActivityEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	ClientName string    `json:"clientName"`
	SessionID  string    `json:"sessionId"`
	Tool       string    `json:"tool"`
	Site       string    `json:"site,omitempty"`
	Summary    string    `json:"summary"`
}

// ActivityDocument is the persisted shape of the activity log file.
type ActivityDocument struct {
	Entries []ActivityEntry `json:"entries"`
}

// ActivityLog is a bounded, newest-first JSON log shared across processes
// via full-document read-modify-write.
type ActivityLog struct {
	dir      string
	logger   pslog.Logger
	capacity int
}

// NewActivityLog returns an activity log persisting under dir. capacity <= 0
// selects DefaultActivityLogCapacity.
func NewActivityLog(dir string, logger pslog.Logger, capacity int) *ActivityLog {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if capacity <= 0 {
		capacity = DefaultActivityLogCapacity
	}
	return &ActivityLog{dir: dir, logger: logger, capacity: capacity}
}

// Path returns the activity log file location.
func (l *ActivityLog) Path() string {
	return filepath.Join(l.dir, activityFileName)
}

// Read loads the current log. Missing or corrupt files yield an empty log.
func (l *ActivityLog) Read() (ActivityDocument, error) {
	var doc ActivityDocument
	raw, err := os.ReadFile(l.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read activity log: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		l.logger.Warn("registry.activity.corrupt", "path", l.Path(), "error", err)
		return ActivityDocument{}, nil
	}
	return doc, nil
}

// Append prepends entry and trims the tail beyond capacity.
func (l *ActivityLog) Append(entry ActivityEntry) error {
	doc, err := l.Read()
	if err != nil {
		l.logger.Warn("registry.activity.read_failed", "error", err)
		doc = ActivityDocument{}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entries := make([]ActivityEntry, 0, len(doc.Entries)+1)
	entries = append(entries, entry)
	entries = append(entries, doc.Entries...)
	if len(entries) > l.capacity {
		entries = entries[:l.capacity]
	}
	doc.Entries = entries
	if err := writeJSONFile(l.dir, l.Path(), doc); err != nil {
		l.logger.Warn("registry.activity.write_failed", "error", err)
		return err
	}
	return nil
}
