package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Job is one queued submission: the run to send and the judge endpoint to send it to.
type Job struct {
	SequenceID  int64  `json:"id"`
	RecordRef   int64  `json:"run_id"`
	Destination string `json:"ejudge_url"`
}

// Encode returns the wire form stored in the queue.
func (j Job) Encode() string {
	// Marshalling a struct of ints and a string cannot fail.
	data, _ := json.Marshal(j)
	return string(data)
}

// Validate checks the fields a decoded job must carry.
func (j Job) Validate() error {
	if j.SequenceID <= 0 {
		return fmt.Errorf("sequence id must be positive, got %d", j.SequenceID)
	}
	if j.RecordRef <= 0 {
		return fmt.Errorf("run id must be positive, got %d", j.RecordRef)
	}
	if strings.TrimSpace(j.Destination) == "" {
		return fmt.Errorf("destination is required")
	}
	return nil
}

// DecodeJob parses a wire form produced by Encode.
func DecodeJob(data string) (Job, error) {
	var job Job
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if dec.More() {
		return Job{}, fmt.Errorf("decode job: trailing data")
	}
	if err := job.Validate(); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
