package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	e := New(ErrCodeTopology, "overlapping segments")
	assert.Equal(t, "[ENGINE_4001] overlapping segments", e.Error())
}

func TestWrapUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	e := Wrap(ErrCodeLedgerIO, "append failed", inner)
	assert.True(t, errors.Is(e, inner), "Wrap should preserve the chain for errors.Is")
	assert.Equal(t, inner, errors.Unwrap(e))
}

func TestWithDetails(t *testing.T) {
	e := New(ErrCodeBrokerJob, "failed").WithDetails("job_idx", "abc123")
	assert.Equal(t, "abc123", e.Details["job_idx"])
}

func TestUserCodeFailure(t *testing.T) {
	e := UserCodeFailure("Apply", errors.New("boom"))
	require.Equal(t, ErrCodeUserCode, e.Code)
	assert.Equal(t, "Apply", e.Details["node"])
}

func TestBrokerJobFailed(t *testing.T) {
	e := BrokerJobFailed("job-1", errors.New("timeout"))
	assert.Equal(t, ErrCodeBrokerJob, e.Code)
}

func TestLedgerIOFailure(t *testing.T) {
	e := LedgerIOFailure("/tmp/requests.jsonl", "append", errors.New("eof"))
	assert.Equal(t, "/tmp/requests.jsonl", e.Details["path"])
	assert.Equal(t, "append", e.Details["op"])
}

func TestIterationCapExceeded(t *testing.T) {
	e := IterationCapExceeded(1000)
	assert.Equal(t, 1000, e.Details["max_iterations"])
}

func TestIsEngineErrorAndGetEngineError(t *testing.T) {
	var err error = TopologyError("cycle without barrier")
	require.True(t, IsEngineError(err))
	assert.Equal(t, ErrCodeTopology, GetEngineError(err).Code)
	assert.False(t, IsEngineError(errors.New("plain")))
}

func TestCode(t *testing.T) {
	assert.Equal(t, ErrCodeIterationCap, Code(IterationCapExceeded(5)))
	assert.Equal(t, ErrorCode(""), Code(errors.New("plain")))
}
