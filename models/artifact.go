package models

// Artifact is the immutable output of a successful conversion.
type Artifact struct {
	JobID       string `json:"jobId"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`

	data []byte
}

// NewArtifact wraps output bytes. The caller must not retain or mutate data
// after handing it over.
func NewArtifact(jobID, contentType string, data []byte) *Artifact {
	return &Artifact{
		JobID:       jobID,
		ContentType: contentType,
		Size:        int64(len(data)),
		data:        data,
	}
}

// Bytes returns a copy of the artifact payload. Copying keeps the stored
// bytes immutable no matter what callers do with the result.
func (a *Artifact) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}
