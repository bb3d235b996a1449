package delivery

import (
	"time"
)

// Status is a delivery or per-platform lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusValidating Status = "VALIDATING"
	StatusProcessing Status = "PROCESSING"
	StatusUploading  Status = "UPLOADING"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
	StatusRejected   Status = "REJECTED"
)

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusRejected
}

// Overall progress percentages per delivery stage.
const (
	percentValidating = 10
	percentProcessing = 40
	percentUploading  = 80
	percentDone       = 100
)

// AssetDelivery tracks one asset's journey toward one platform.
type AssetDelivery struct {
	Path        string    `json:"path"`
	UploadPath  string    `json:"uploadPath"`
	Processed   bool      `json:"processed"`
	JobID       string    `json:"jobId,omitempty"`
	UploadID    string    `json:"uploadId,omitempty"`
	URL         string    `json:"url,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// PlatformState is the per-platform slice of a delivery. Stage records how
// far the platform got before its terminal status, which distinguishes a
// contract rejection from an upload failure.
type PlatformState struct {
	Platform string          `json:"platform"`
	Status   Status          `json:"status"`
	Stage    Status          `json:"stage"`
	Error    string          `json:"error,omitempty"`
	Assets   []AssetDelivery `json:"assets"`
}

func (p *PlatformState) fail(stage Status, err error) {
	p.Status = StatusFailed
	p.Stage = stage
	p.Error = err.Error()
}

// Stats aggregates platform outcomes, written once when the delivery
// reaches a terminal status.
type Stats struct {
	Successful  int            `json:"successful"`
	Failed      int            `json:"failed"`
	PerPlatform map[string]int `json:"perPlatform"`
}

// Delivery is one orchestrated run: a set of assets toward a set of
// platform contracts under a shared metadata record.
type Delivery struct {
	ID          string                    `json:"id"`
	ProjectID   string                    `json:"projectId,omitempty"`
	Assets      []string                  `json:"assets"`
	Platforms   []string                  `json:"platforms"`
	Metadata    map[string]string         `json:"metadata"`
	Status      Status                    `json:"status"`
	Progress    int                       `json:"progress"`
	PerPlatform map[string]*PlatformState `json:"perPlatform"`
	Stats       Stats                     `json:"stats"`
	StartedAt   time.Time                 `json:"startedAt"`
	CompletedAt time.Time                 `json:"completedAt,omitzero"`
}

// clone deep-copies the delivery so snapshots stay stable while the
// orchestrator keeps mutating the original.
func (d *Delivery) clone() *Delivery {
	out := *d
	out.Assets = append([]string(nil), d.Assets...)
	out.Platforms = append([]string(nil), d.Platforms...)
	out.Metadata = make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	out.PerPlatform = make(map[string]*PlatformState, len(d.PerPlatform))
	for id, ps := range d.PerPlatform {
		cp := *ps
		cp.Assets = append([]AssetDelivery(nil), ps.Assets...)
		out.PerPlatform[id] = &cp
	}
	if d.Stats.PerPlatform != nil {
		out.Stats.PerPlatform = make(map[string]int, len(d.Stats.PerPlatform))
		for k, v := range d.Stats.PerPlatform {
			out.Stats.PerPlatform[k] = v
		}
	}
	return &out
}
