package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/musicgen/internal/model"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Event
	}{
		{
			name: "nested complete callback",
			body: `{"code":200,"msg":"All generated successfully.","data":{
				"callbackType":"complete","task_id":"abc123",
				"data":[{"id":"t1","audio_url":"https://cdn/a.mp3","title":"Rain"},{"id":"t2","audio_url":"https://cdn/b.mp3"}]}}`,
			want: Event{TaskID: "abc123", RawStatus: "complete", Status: model.ProviderStatusSuccess,
				ResultURL: "https://cdn/a.mp3", Title: "Rain"},
		},
		{
			name: "first track without audio yet",
			body: `{"code":200,"data":{"callbackType":"first","task_id":"abc123",
				"data":[{"id":"t1","audio_url":"","stream_audio_url":"https://cdn/s"},{"id":"t2","audio_url":"https://cdn/b.mp3"}]}}`,
			want: Event{TaskID: "abc123", RawStatus: "first", Status: model.ProviderStatusGenerating,
				ResultURL: "https://cdn/b.mp3"},
		},
		{
			name: "flat payload",
			body: `{"taskId":"abc123","status":"SUCCESS","resultUrl":"https://cdn/a.mp3","title":"Flat"}`,
			want: Event{TaskID: "abc123", RawStatus: "SUCCESS", Status: model.ProviderStatusSuccess,
				ResultURL: "https://cdn/a.mp3", Title: "Flat"},
		},
		{
			name: "record-info shaped payload",
			body: `{"data":{"taskId":"abc123","status":"SUCCESS",
				"response":{"sunoData":[{"audioUrl":"https://cdn/r.mp3","title":"Rec"}]}}}`,
			want: Event{TaskID: "abc123", RawStatus: "SUCCESS", Status: model.ProviderStatusSuccess,
				ResultURL: "https://cdn/r.mp3", Title: "Rec"},
		},
		{
			name: "error code with message",
			body: `{"code":501,"msg":"Audio generation failed","data":{"callbackType":"error","task_id":"abc123"}}`,
			want: Event{TaskID: "abc123", RawStatus: "error", Status: model.ProviderStatusFailed,
				ErrorMessage: "Audio generation failed"},
		},
		{
			name: "error code without status",
			body: `{"code":400,"msg":"Sensitive word detected","data":{"task_id":"abc123"}}`,
			want: Event{TaskID: "abc123", RawStatus: "FAILED", Status: model.ProviderStatusFailed,
				ErrorMessage: "Sensitive word detected"},
		},
		{
			name: "failure without message",
			body: `{"task_id":"abc123","status":"GENERATE_AUDIO_FAILED"}`,
			want: Event{TaskID: "abc123", RawStatus: "GENERATE_AUDIO_FAILED", Status: model.ProviderStatusFailed,
				ErrorMessage: "generation failed: GENERATE_AUDIO_FAILED"},
		},
		{
			name: "unknown status stays pending",
			body: `{"taskId":"abc123","status":"QUEUED_SOMEWHERE"}`,
			want: Event{TaskID: "abc123", RawStatus: "QUEUED_SOMEWHERE", Status: model.ProviderStatusPending},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	_, err := Extract([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Extract([]byte(`["abc123"]`))
	assert.ErrorIs(t, err, ErrMalformed)

	ev, err := Extract([]byte(`{"status":"SUCCESS","resultUrl":"https://cdn/a.mp3"}`))
	assert.ErrorIs(t, err, ErrUnrecognized)
	assert.Equal(t, model.ProviderStatusSuccess, ev.Status)
}

func TestExtract_FirstRuleWins(t *testing.T) {
	ev, err := Extract([]byte(`{"taskId":"flat","data":{"task_id":"nested"}}`))
	require.NoError(t, err)
	assert.Equal(t, "nested", ev.TaskID)
}

func TestNewExtractor_RejectsBadRules(t *testing.T) {
	_, err := NewExtractor(Rules{TaskID: []string{"data.[["}})
	assert.Error(t, err)

	_, err = NewExtractor(Rules{TaskID: []string{"  "}})
	assert.Error(t, err)

	e, err := NewExtractor(Rules{TaskID: []string{"job.ref"}, Status: []string{"job.state"}})
	require.NoError(t, err)
	ev, err := e.Extract([]byte(`{"job":{"ref":"x1","state":"done"}}`))
	require.NoError(t, err)
	assert.Equal(t, "x1", ev.TaskID)
	assert.Equal(t, model.ProviderStatusSuccess, ev.Status)
}

func TestNewExtractor_CompilesEveryRule(t *testing.T) {
	e, err := NewExtractor(DefaultRules)
	require.NoError(t, err)

	assert.Len(t, e.taskID, len(DefaultRules.TaskID))
	assert.Len(t, e.status, len(DefaultRules.Status))
	assert.Len(t, e.resultURL, len(DefaultRules.ResultURL))
	assert.Len(t, e.title, len(DefaultRules.Title))
	assert.Len(t, e.errorMessage, len(DefaultRules.ErrorMessage))

	// compiled rules are reused across payloads
	for _, id := range []string{"t-1", "t-2"} {
		ev, err := e.Extract([]byte(`{"data":{"task_id":"` + id + `","callbackType":"complete"}}`))
		require.NoError(t, err)
		assert.Equal(t, id, ev.TaskID)
	}
}
