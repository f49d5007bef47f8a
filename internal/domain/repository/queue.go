package repository

import "context"

// OutputSpec is one requested output version inside a TranscodeJob, keyed
// by its version label in TranscodeJob.Outputs.
type OutputSpec struct {
	Container         string   `json:"container"`
	ElementaryStreams  []string `json:"elementary_streams"`
	StorageAlias      string   `json:"storage_alias"`
	IsUpdate          bool     `json:"is_update,omitempty"`
	AudioKey          string   `json:"audio_key,omitempty"`
	VideoKey          string   `json:"video_key,omitempty"`
}

// ElementaryStreamSpec describes one codec/attribute entry referenced by
// an OutputSpec's ElementaryStreams keys.
type ElementaryStreamSpec struct {
	Type      string            `json:"type"`
	Codec     string            `json:"codec"`
	Attribute map[string]string `json:"attribute"`
}

// TranscodeJob is the full RPC job message consumed by the worker,
// matching the field set a source FP and its destinations need to start
// processing.
type TranscodeJob struct {
	JobID             string                          `json:"job_id"`
	UserID            uint32                          `json:"usr_id"`
	LastUploadReqID   uint32                          `json:"last_upld_req"`
	MetadataDB        string                          `json:"metadata_db"`
	StorageAlias      string                          `json:"storage_alias"`
	Outputs           map[string]OutputSpec           `json:"outputs"`
	ElementaryStreams map[string]ElementaryStreamSpec `json:"elementary_streams"`
	PartsSize         []int64                         `json:"parts_size"`
	ResourceID        string                          `json:"resource_id"`
	ResIDEncoded      string                          `json:"res_id_encoded"`
}

// JobReplyStatus distinguishes in-progress progress reports from the
// terminal outcome of a job.
type JobReplyStatus string

const (
	JobReplyProgress JobReplyStatus = "progress"
	JobReplyDone     JobReplyStatus = "done"
	JobReplyError    JobReplyStatus = "error"
)

// JobReply is published back to the reply queue, tagged by JobID so the
// API side can correlate it to the triggering request.
type JobReply struct {
	JobID       string         `json:"job_id"`
	Status      JobReplyStatus `json:"status"`
	PercentDone float64        `json:"percent_done"`
	Error       string         `json:"error,omitempty"`
}

// MessageQueue defines the interface for message queue operations backing
// the RPC job protocol. Implementations live in the infrastructure layer
// (e.g. RabbitMQ).
type MessageQueue interface {
	// PublishJob sends a transcoding job to the worker queue. Used by the
	// API server to trigger async processing.
	PublishJob(ctx context.Context, job TranscodeJob) error

	// ConsumeJobs starts consuming jobs from the queue. The handler is
	// called for each received job; it returns the reply to publish back
	// (a handler may publish intermediate progress replies itself via the
	// same MessageQueue instance before returning the terminal reply).
	ConsumeJobs(ctx context.Context, handler func(job TranscodeJob) (JobReply, error)) error

	// PublishReply sends a job reply (progress or terminal) to the reply
	// queue, tagged by JobID.
	PublishReply(ctx context.Context, reply JobReply) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}
