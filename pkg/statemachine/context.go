package statemachine

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the format of timestamps in the context JSON.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrorInfo is a check or download failure surfaced to the application.
type ErrorInfo struct {
	Message string `json:"message"`
}

// Rollback marks that the server asked the client to return to the embedded update.
type Rollback struct {
	CommitTime time.Time
}

type rollbackJSON struct {
	CommitTime string `json:"commitTime"`
}

// MarshalJSON implements json.Marshaler.
func (r Rollback) MarshalJSON() ([]byte, error) {
	return json.Marshal(rollbackJSON{CommitTime: r.CommitTime.UTC().Format(TimeLayout)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rollback) UnmarshalJSON(data []byte) error {
	var raw rollbackJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	commitTime, err := time.Parse(time.RFC3339Nano, raw.CommitTime)
	if err != nil {
		return fmt.Errorf("invalid rollback commit time: %w", err)
	}
	r.CommitTime = commitTime
	return nil
}

// Context is the snapshot accumulated by the reducer. Values are replaced, never
// mutated; manifests are shared between snapshots and must be treated as read only.
type Context struct {
	IsUpdateAvailable         bool
	IsUpdatePending           bool
	IsChecking                bool
	IsDownloading             bool
	IsRestarting              bool
	IsStartupProcedureRunning bool
	LatestManifest            json.RawMessage
	DownloadedManifest        json.RawMessage
	Rollback                  *Rollback
	CheckError                *ErrorInfo
	DownloadError             *ErrorInfo
	LastCheckForUpdateTime    *time.Time
	DownloadProgress          float64
	RestartCount              int
	SequenceNumber            int
}

// IsRollback reports whether the latest check returned a rollback directive.
func (c Context) IsRollback() bool {
	return c.Rollback != nil
}

type contextJSON struct {
	IsUpdateAvailable            bool            `json:"isUpdateAvailable"`
	IsUpdatePending              bool            `json:"isUpdatePending"`
	IsRollback                   bool            `json:"isRollback"`
	IsChecking                   bool            `json:"isChecking"`
	IsDownloading                bool            `json:"isDownloading"`
	IsRestarting                 bool            `json:"isRestarting"`
	IsStartupProcedureRunning    bool            `json:"isStartupProcedureRunning"`
	LatestManifest               json.RawMessage `json:"latestManifest,omitempty"`
	DownloadedManifest           json.RawMessage `json:"downloadedManifest,omitempty"`
	Rollback                     *Rollback       `json:"rollback,omitempty"`
	CheckError                   *ErrorInfo      `json:"checkError,omitempty"`
	DownloadError                *ErrorInfo      `json:"downloadError,omitempty"`
	LastCheckForUpdateTimeString string          `json:"lastCheckForUpdateTimeString,omitempty"`
	DownloadProgress             float64         `json:"downloadProgress"`
	RestartCount                 int             `json:"restartCount"`
	SequenceNumber               int             `json:"sequenceNumber"`
}

// MarshalJSON produces the map delivered to the application.
func (c Context) MarshalJSON() ([]byte, error) {
	out := contextJSON{
		IsUpdateAvailable:         c.IsUpdateAvailable,
		IsUpdatePending:           c.IsUpdatePending,
		IsRollback:                c.IsRollback(),
		IsChecking:                c.IsChecking,
		IsDownloading:             c.IsDownloading,
		IsRestarting:              c.IsRestarting,
		IsStartupProcedureRunning: c.IsStartupProcedureRunning,
		LatestManifest:            c.LatestManifest,
		DownloadedManifest:        c.DownloadedManifest,
		Rollback:                  c.Rollback,
		CheckError:                c.CheckError,
		DownloadError:             c.DownloadError,
		DownloadProgress:          c.DownloadProgress,
		RestartCount:              c.RestartCount,
		SequenceNumber:            c.SequenceNumber,
	}
	if c.LastCheckForUpdateTime != nil {
		out.LastCheckForUpdateTimeString = c.LastCheckForUpdateTime.UTC().Format(TimeLayout)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a context produced by MarshalJSON. isRollback is derived and ignored.
func (c *Context) UnmarshalJSON(data []byte) error {
	var in contextJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Context{
		IsUpdateAvailable:         in.IsUpdateAvailable,
		IsUpdatePending:           in.IsUpdatePending,
		IsChecking:                in.IsChecking,
		IsDownloading:             in.IsDownloading,
		IsRestarting:              in.IsRestarting,
		IsStartupProcedureRunning: in.IsStartupProcedureRunning,
		LatestManifest:            in.LatestManifest,
		DownloadedManifest:        in.DownloadedManifest,
		Rollback:                  in.Rollback,
		CheckError:                in.CheckError,
		DownloadError:             in.DownloadError,
		DownloadProgress:          in.DownloadProgress,
		RestartCount:              in.RestartCount,
		SequenceNumber:            in.SequenceNumber,
	}
	if in.LastCheckForUpdateTimeString != "" {
		t, err := time.Parse(time.RFC3339Nano, in.LastCheckForUpdateTimeString)
		if err != nil {
			return fmt.Errorf("invalid lastCheckForUpdateTimeString: %w", err)
		}
		c.LastCheckForUpdateTime = &t
	}
	return nil
}
