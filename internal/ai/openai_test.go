package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTransport implements http.RoundTripper for testing
type MockTransport struct {
	mu             sync.RWMutex
	responses      map[string]*http.Response
	responseBodies map[string]string
	requests       []*http.Request
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:      make(map[string]*http.Response),
		responseBodies: make(map[string]string),
		requests:       make([]*http.Request, 0),
	}
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store the request for inspection
	m.requests = append(m.requests, req)

	// Create a key based on method and URL
	key := fmt.Sprintf("%s %s", req.Method, req.URL.String())

	if respData, exists := m.responses[key]; exists {
		// Get the stored body for this response
		body := m.responseBodies[key]
		// Create a fresh response with a new body reader
		return &http.Response{
			StatusCode: respData.StatusCode,
			Status:     respData.Status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     copyHeaders(respData.Header),
		}, nil
	}

	// Default response if no mock is set up
	return &http.Response{
		StatusCode: 500,
		Status:     "500 Internal Server Error",
		Body:       io.NopCloser(strings.NewReader(`{"error": {"message": "Mock not configured"}}`)),
		Header:     make(http.Header),
	}, nil
}

func (m *MockTransport) AddResponse(method, url string, statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s %s", method, url)
	m.responses[key] = &http.Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Header:     make(http.Header),
	}
	m.responseBodies[key] = body
}

func (m *MockTransport) GetRequests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid concurrent access issues
	requests := make([]*http.Request, len(m.requests))
	copy(requests, m.requests)
	return requests
}

func (m *MockTransport) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = make([]*http.Request, 0)
}

// Helper function to copy HTTP headers
func copyHeaders(original http.Header) http.Header {
	return original.Clone()
}

const (
	chatURL  = "https://api.openai.com/v1/chat/completions"
	embedURL = "https://api.openai.com/v1/embeddings"
)

func createMockClient(transport *MockTransport) *OpenAIClient {
	client := NewOpenAIClient(&ClientConfig{
		APIKey:      "test-api-key",
		ChatModel:   "gpt-4",
		Temperature: 0.2,
		Dim:         512,
		ProjectID:   "test-project",
	})
	client.http = &http.Client{Transport: transport, Timeout: 20 * time.Second}
	return client
}

func decodeChatRequest(t *testing.T, req *http.Request) openAIChatRequest {
	t.Helper()
	var body openAIChatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode request body: %v", err)
	}
	return body
}

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name         string
		config       *ClientConfig
		expectedChat string
		expectedDim  int
		expectedTO   time.Duration
		expectedBase string
	}{
		{
			name:         "defaults",
			config:       &ClientConfig{APIKey: "k"},
			expectedChat: "gpt-4",
			expectedDim:  1536,
			expectedTO:   600 * time.Second,
			expectedBase: defaultOpenAIBaseURL,
		},
		{
			name: "explicit values",
			config: &ClientConfig{
				APIKey:         "k",
				ChatModel:      "gpt-4o",
				EmbedModel:     "text-embedding-3-large",
				RequestTimeout: 30 * time.Second,
				BaseURL:        "http://localhost:11434/v1",
			},
			expectedChat: "gpt-4o",
			expectedDim:  3072,
			expectedTO:   30 * time.Second,
			expectedBase: "http://localhost:11434/v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIClient(tt.config)
			if c.config.ChatModel != tt.expectedChat {
				t.Errorf("expected chat model %q, got %q", tt.expectedChat, c.config.ChatModel)
			}
			if c.Dim() != tt.expectedDim {
				t.Errorf("expected dim %d, got %d", tt.expectedDim, c.Dim())
			}
			if c.http.Timeout != tt.expectedTO {
				t.Errorf("expected timeout %v, got %v", tt.expectedTO, c.http.Timeout)
			}
			if c.config.BaseURL != tt.expectedBase {
				t.Errorf("expected base URL %q, got %q", tt.expectedBase, c.config.BaseURL)
			}
		})
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		responseBody string
		expected     string
		expectError  bool
		statusErr    int
	}{
		{
			name:         "answer returned verbatim",
			statusCode:   200,
			responseBody: `{"choices":[{"message":{"role":"assistant","content":"  Lambdas are created in template.yaml\n"}}]}`,
			expected:     "  Lambdas are created in template.yaml\n",
		},
		{
			name:         "no choices",
			statusCode:   200,
			responseBody: `{"choices":[]}`,
			expectError:  true,
		},
		{
			name:         "rate limited",
			statusCode:   429,
			responseBody: `{"error":{"message":"Rate limit exceeded"}}`,
			expectError:  true,
			statusErr:    429,
		},
		{
			name:         "server error without body",
			statusCode:   503,
			responseBody: ``,
			expectError:  true,
			statusErr:    503,
		},
		{
			name:         "invalid json",
			statusCode:   200,
			responseBody: `nope`,
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			transport.AddResponse("POST", chatURL, tt.statusCode, tt.responseBody)
			client := createMockClient(transport)

			got, err := client.Complete(context.Background(), CompletionRequest{
				System: "be helpful",
				Prompt: "show me how the lambda functions are created",
			})
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if tt.statusErr != 0 {
					var se *StatusError
					if !errors.As(err, &se) {
						t.Fatalf("expected *StatusError, got %T", err)
					}
					if se.StatusCode != tt.statusErr {
						t.Errorf("expected status %d, got %d", tt.statusErr, se.StatusCode)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestOpenAIClient_CompleteRequestShape(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", chatURL, 200, `{"choices":[{"message":{"content":"ok"}}]}`)
	client := createMockClient(transport)
	client.config.MaxTokens = 1024

	if _, err := client.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "question"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := transport.GetRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	body := decodeChatRequest(t, reqs[0])
	if body.Model != "gpt-4" {
		t.Errorf("expected model gpt-4, got %q", body.Model)
	}
	if body.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", body.Temperature)
	}
	if body.MaxTokens != 1024 {
		t.Errorf("expected max_tokens 1024, got %d", body.MaxTokens)
	}
	if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "question" {
		t.Errorf("unexpected messages: %+v", body.Messages)
	}
	if reqs[0].Header.Get("Authorization") != "Bearer test-api-key" {
		t.Errorf("unexpected Authorization header %q", reqs[0].Header.Get("Authorization"))
	}
}

func TestOpenAIClient_CompleteMissingKey(t *testing.T) {
	transport := NewMockTransport()
	client := createMockClient(transport)
	client.config.APIKey = ""

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	if err == nil || !strings.Contains(err.Error(), "PROVIDER_API_KEY unset") {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if n := len(transport.GetRequests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestOpenAIClient_Embed(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", embedURL, 200, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	client := createMockClient(transport)

	v, err := client.Embed("text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("expected 3 values, got %d", len(v))
	}

	transport.AddResponse("POST", embedURL, 200, `{"data":[]}`)
	if _, err := client.Embed("text"); err == nil || !strings.Contains(err.Error(), "no embedding") {
		t.Errorf("expected no embedding error, got %v", err)
	}
}

func TestOpenAIClient_Summarize(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", chatURL, 200, `{"choices":[{"message":{"content":"Creates the\nlambda functions."}}]}`)
	client := createMockClient(transport)

	got, err := client.Summarize(context.Background(), "template.yaml", "yaml", strings.Repeat("x", 9000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Creates the lambda functions." {
		t.Errorf("unexpected summary %q", got)
	}

	body := decodeChatRequest(t, transport.GetRequests()[0])
	if body.Model != "gpt-4o-mini" {
		t.Errorf("expected summary model, got %q", body.Model)
	}
	if body.MaxTokens != 120 {
		t.Errorf("expected max_tokens 120, got %d", body.MaxTokens)
	}
	if strings.Count(body.Messages[1].Content, "x") != 8000 {
		t.Error("expected content to be truncated to 8000 characters")
	}
}

func TestOpenAIClient_setHeaders(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		project string
		want    string
	}{
		{"project key with project", "sk-proj-abc", "p1", "p1"},
		{"project key without project", "sk-proj-abc", "", ""},
		{"regular key", "sk-abc", "p1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIClient(&ClientConfig{APIKey: tt.apiKey, ProjectID: tt.project})
			req := httptest.NewRequest(http.MethodPost, chatURL, nil)
			c.setHeaders(req)
			if got := req.Header.Get("OpenAI-Project"); got != tt.want {
				t.Errorf("expected OpenAI-Project %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOpenAIClient_BaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"local answer"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(&ClientConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	got, err := c.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "local answer" {
		t.Errorf("expected local answer, got %q", got)
	}
}

func TestOpenAIClient_CompleteCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewOpenAIClient(&ClientConfig{APIKey: "k", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Complete(ctx, CompletionRequest{Prompt: "q"}); err == nil {
		t.Fatal("expected error from expired context")
	}
}

func TestOpenAIClient_ConcurrentRequests(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", chatURL, 200, `{"choices":[{"message":{"content":"ok"}}]}`)
	client := createMockClient(transport)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: fmt.Sprintf("q%d", i)}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := len(transport.GetRequests()); n != 10 {
		t.Errorf("expected 10 requests, got %d", n)
	}
}
