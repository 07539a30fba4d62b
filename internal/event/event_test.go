package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := New(NewMessage, map[string]string{"content": "hi"})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, NewMessage, out.Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(out.Payload, &payload))
	assert.Equal(t, "hi", payload["content"])
}

func TestAsErrDowngradesUnknownErrors(t *testing.T) {
	we := AsErr(errors.New("pq: connection refused"))
	assert.Equal(t, CodeInternalError, we.Code)
	assert.NotContains(t, we.Message, "pq:", "storage details must not leak to clients")

	orig := NotAuthorized("nope")
	assert.Same(t, orig, AsErr(orig))
}
