package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineJobRoundTrip(t *testing.T) {
	id := uuid.New()
	job, err := NewPipelineJob(PipelinePayload{JobID: id})
	require.NoError(t, err)
	assert.Equal(t, JobTypePipelineRun, job.Type)
	assert.Zero(t, job.Attempt)

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var decoded Job
	require.NoError(t, json.Unmarshal(raw, &decoded))

	p, err := decoded.PipelinePayload()
	require.NoError(t, err)
	assert.Equal(t, id, p.JobID)
}

func TestPipelinePayloadRejectsBadEnvelopes(t *testing.T) {
	_, err := (&Job{Type: "email", Payload: json.RawMessage(`{}`)}).PipelinePayload()
	assert.Error(t, err)

	_, err = (&Job{Type: JobTypePipelineRun, Payload: json.RawMessage(`{}`)}).PipelinePayload()
	assert.ErrorContains(t, err, "missing job_id")
}
