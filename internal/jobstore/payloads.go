package jobstore

import (
	"encoding/json"
	"fmt"
)

// PublishPayload parameterizes a bot.publish_post job. MediaKind is a hint;
// the handler degrades to a cheaper kind when generation fails or budget
// pressure sheds media.
type PublishPayload struct {
	MediaKind string `json:"media_kind"` // "text", "image", or "video"
}

// InteractionsPayload parameterizes a bot.interactions job.
type InteractionsPayload struct {
	MaxComments int `json:"max_comments"`
}

// DecodePayload unmarshals a job's payload into dst.
func DecodePayload(job *Job, dst any) error {
	if len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", job.Kind, err)
	}
	return nil
}
