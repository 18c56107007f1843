package core

// ArtifactStatus is the commit-phase state of an artifact row.
type ArtifactStatus string

const (
	ArtifactUploading ArtifactStatus = "uploading"
	ArtifactCompleted ArtifactStatus = "completed"
	ArtifactFailed    ArtifactStatus = "failed"
)

// ArtifactVisibility scopes who may read an artifact.
type ArtifactVisibility string

const (
	VisibilityPrivate ArtifactVisibility = "private"
	VisibilityTrace   ArtifactVisibility = "trace"
	VisibilityPublic  ArtifactVisibility = "public"
)

// Manifest is the metadata record describing an artifact. Every field
// but URI and Status is immutable once Status leaves
// ArtifactUploading; new content is always a new Manifest with Version+1
// and a new ID, never an in-place mutation.
type Manifest struct {
	ID           string                 `json:"id"`
	Version      int                    `json:"version"`
	TraceID      string                 `json:"trace_id"`
	StepID       string                 `json:"step_id,omitempty"`
	CreatedBy    string                 `json:"created_by"`
	ArtifactType string                 `json:"artifact_type"`
	ContentType  string                 `json:"content_type"`
	URI          string                 `json:"uri"`
	SizeBytes    int64                  `json:"size_bytes"`
	Checksum     string                 `json:"checksum"`
	Status       ArtifactStatus         `json:"status"`
	Owner        string                 `json:"owner"`
	Visibility   ArtifactVisibility     `json:"visibility"`
	Context      map[string]interface{} `json:"context,omitempty"`
	CreatedAt    int64                  `json:"created_at"`
}
