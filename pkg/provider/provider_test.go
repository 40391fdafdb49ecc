package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrompt() Prompt {
	return Prompt{
		System: "You are helpful.",
		Messages: []Message{
			{Role: RoleUser, Content: "sort a list"},
			{Role: RoleAssistant, Content: "[TOOL:calculator({\"expression\":\"1+1\"})]"},
			{Role: RoleTool, ToolID: "calculator", Content: `{"result":2}`},
		},
	}
}

func decodeBody(r *http.Request) map[string]interface{} {
	var body map[string]interface{}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)
	return body
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Descriptor{ID: "p2"}, NewStatic("p2", "x")))
	require.NoError(t, reg.Register(Descriptor{ID: "p1", Timeout: time.Second}, NewStatic("p1", "y")))

	assert.Error(t, reg.Register(Descriptor{ID: "p1"}, NewStatic("p1")))
	assert.Error(t, reg.Register(Descriptor{}, NewStatic("")))
	assert.Error(t, reg.Register(Descriptor{ID: "p3"}, nil))

	a, desc, ok := reg.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", a.ID())
	assert.Equal(t, time.Second, desc.Timeout)

	_, _, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"p1", "p2"}, reg.IDs())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
	assert.Greater(t, EstimateTokens(testPrompt().Text()), 5)
}

func TestStaticAdapter(t *testing.T) {
	s := NewStatic("static", "first", "second")
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		got, err := s.Call(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	echo := NewStatic("echo")
	got, err := echo.Call(ctx, Request{Prompt: testPrompt()})
	require.NoError(t, err)
	assert.Equal(t, "You said: sort a list", got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Call(cancelled, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "anthropic", spec: Spec{ID: "a", Kind: KindAnthropic, APIKey: "k"}},
		{name: "anthropic without key", spec: Spec{ID: "a", Kind: KindAnthropic}, wantErr: true},
		{name: "openai", spec: Spec{ID: "o", Kind: KindOpenAI, APIKey: "k"}},
		{name: "openai without key", spec: Spec{ID: "o", Kind: KindOpenAI}, wantErr: true},
		{name: "local", spec: Spec{ID: "l", Kind: KindLocal, BaseURL: "http://localhost:11434/v1"}},
		{name: "local without url", spec: Spec{ID: "l", Kind: KindLocal}, wantErr: true},
		{name: "static", spec: Spec{ID: "s", Kind: KindStatic}},
		{name: "unknown kind", spec: Spec{ID: "x", Kind: "gemini"}, wantErr: true},
		{name: "missing id", spec: Spec{Kind: KindStatic}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spec.ID, a.ID())
		})
	}
}

func TestBuild(t *testing.T) {
	reg, err := Build([]Spec{
		{ID: "primary", Kind: KindStatic, Responses: []string{"hi"}, Timeout: time.Second},
		{ID: "fallback", Kind: KindStatic},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback", "primary"}, reg.IDs())

	_, err = Build([]Spec{{ID: "dup", Kind: KindStatic}, {ID: "dup", Kind: KindStatic}})
	assert.Error(t, err)
}

func TestOpenAIAdapter_Call(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		bodies <- decodeBody(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Use sort.Slice."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)
	}))
	defer srv.Close()

	a := NewOpenAI(Spec{ID: "openai", APIKey: "test", BaseURL: srv.URL})
	got, err := a.Call(context.Background(), Request{Prompt: testPrompt(), MaxTokens: 100, Timeout: 5 * time.Second})

	require.NoError(t, err)
	assert.Equal(t, "Use sort.Slice.", got)
	assert.Equal(t, int32(1), calls.Load())

	body := <-bodies
	assert.Equal(t, "gpt-4o-mini", body["model"])

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
}

func TestOpenAIAdapter_ErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	a := NewLocal(Spec{ID: "local", BaseURL: srv.URL})
	_, err := a.Call(context.Background(), Request{Prompt: testPrompt()})

	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIAdapter_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	a := NewLocal(Spec{ID: "local", BaseURL: srv.URL})
	_, err := a.Call(context.Background(), Request{Prompt: testPrompt(), Timeout: 50 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline exceeded"), err.Error())
}

func TestAnthropicAdapter_Call(t *testing.T) {
	bodies := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodies <- decodeBody(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-latest",
			"content":[{"type":"text","text":"Hello"},{"type":"text","text":" there"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	a := NewAnthropic(Spec{ID: "anthropic", APIKey: "test", BaseURL: srv.URL})
	got, err := a.Call(context.Background(), Request{Prompt: testPrompt(), Temperature: 0.2})

	require.NoError(t, err)
	assert.Equal(t, "Hello there", got)

	body := <-bodies
	assert.Equal(t, float64(1024), body["max_tokens"])
	assert.Len(t, body["messages"], 3)
}

type fakeBedrock struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockAdapter_Call(t *testing.T) {
	fake := &fakeBedrock{body: `{"content":[{"type":"text","text":"from bedrock"}]}`}
	a := newBedrockWithClient(Spec{ID: "bedrock"}, fake)

	got, err := a.Call(context.Background(), Request{Prompt: testPrompt(), MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "from bedrock", got)
	assert.Equal(t, defaultBedrockModel, *fake.input.ModelId)

	var sent bedrockRequest
	require.NoError(t, json.Unmarshal(fake.input.Body, &sent))
	assert.Equal(t, "bedrock-2023-05-31", sent.AnthropicVersion)
	assert.Equal(t, 256, sent.MaxTokens)
	assert.Equal(t, "You are helpful.", sent.System)
	require.Len(t, sent.Messages, 3)
	assert.Equal(t, "user", sent.Messages[2].Role)
	assert.Contains(t, sent.Messages[2].Content, "[TOOL_RESULT:calculator]")

	fake.err = errors.New("throttled")
	_, err = a.Call(context.Background(), Request{Prompt: testPrompt()})
	assert.ErrorContains(t, err, "throttled")

	fake.err = nil
	fake.body = `{"content":[]}`
	_, err = a.Call(context.Background(), Request{Prompt: testPrompt()})
	assert.ErrorContains(t, err, "empty response")
}
