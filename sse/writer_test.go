package sse

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NotNil(t, w)

	require.NoError(t, w.Data(map[string]string{"type": "content", "content": "hi"}))
	require.NoError(t, w.Event("invocation.started", map[string]string{"thread_id": "t"}))
	require.NoError(t, w.Comment("keep-alive"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t,
		"data: {\"content\":\"hi\",\"type\":\"content\"}\n\n"+
			"event: invocation.started\ndata: {\"thread_id\":\"t\"}\n\n"+
			": keep-alive\n\n",
		rec.Body.String())
}

func TestWriter_UnmarshalableData(t *testing.T) {
	w := NewWriter(httptest.NewRecorder())
	assert.Error(t, w.Data(make(chan int)))
}
