package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job asks for one intake file to be processed.
type Job struct {
	Path        string
	TraceID     uuid.UUID
	SubmittedAt time.Time
}

// NewJob returns a job for path with a fresh trace id.
func NewJob(path string) Job {
	return Job{Path: path, TraceID: uuid.New(), SubmittedAt: time.Now().UTC()}
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
