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

const deployStatusFileName = "deploy-status.json"

// DeployResult is the terminal outcome of one render or deploy attempt.
type DeployResult string

// Deploy attempt outcomes.
const (
	DeploySuccess DeployResult = "success"
	DeployFailed  DeployResult = "failed"
)

// Operations a status record can describe.
const (
	OperationRender = "render"
	OperationDeploy = "deploy"
)

// DeployStatusRecord captures the last render/deploy attempt for one site,
// overwritten wholesale on every completion.
type DeployStatusRecord struct {
	Operation  string       `json:"operation"`
	Result     DeployResult `json:"result"`
	Protocol   string       `json:"protocol,omitempty"`
	Path       string       `json:"path,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorLog   string       `json:"errorLog,omitempty"`
	LogFiles   []string     `json:"logFiles,omitempty"`
	DurationMS int64        `json:"duration"`
	Timestamp  time.Time    `json:"timestamp"`
}

// DeployStatus persists last-attempt-wins records keyed by site name.
type DeployStatus struct {
	dir    string
	logger pslog.Logger
}

// NewDeployStatus returns a deploy status store persisting under dir.
func NewDeployStatus(dir string, logger pslog.Logger) *DeployStatus {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &DeployStatus{dir: dir, logger: logger}
}

// Path returns the deploy status file location.
func (d *DeployStatus) Path() string {
	return filepath.Join(d.dir, deployStatusFileName)
}

// Read loads all records. Missing or corrupt files yield an empty map.
func (d *DeployStatus) Read() (map[string]DeployStatusRecord, error) {
	records := map[string]DeployStatusRecord{}
	raw, err := os.ReadFile(d.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return records, nil
		}
		return records, fmt.Errorf("read deploy status: %w", err)
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		d.logger.Warn("registry.deploystatus.corrupt", "path", d.Path(), "error", err)
		return map[string]DeployStatusRecord{}, nil
	}
	return records, nil
}

// Get returns the record for site, if any.
func (d *DeployStatus) Get(site string) (DeployStatusRecord, bool, error) {
	records, err := d.Read()
	if err != nil {
		return DeployStatusRecord{}, false, err
	}
	rec, ok := records[site]
	return rec, ok, nil
}

// Set overwrites the record for site.
func (d *DeployStatus) Set(site string, rec DeployStatusRecord) error {
	records, err := d.Read()
	if err != nil {
		d.logger.Warn("registry.deploystatus.read_failed", "error", err)
		records = map[string]DeployStatusRecord{}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	records[site] = rec
	if err := writeJSONFile(d.dir, d.Path(), records); err != nil {
		d.logger.Warn("registry.deploystatus.write_failed", "error", err)
		return err
	}
	return nil
}
