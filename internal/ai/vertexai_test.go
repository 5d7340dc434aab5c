package ai

import (
	"context"
	"strings"
	"testing"
)

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	if _, err := NewVertexAIClient(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestVertexAIClient_Dim(t *testing.T) {
	tests := []struct {
		name string
		dim  int
	}{
		{"default", 768},
		{"custom", 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &VertexAIClient{config: &ClientConfig{Dim: tt.dim}}
			if c.Dim() != tt.dim {
				t.Errorf("expected %d, got %d", tt.dim, c.Dim())
			}
		})
	}
}

func TestVertexAIClient_NilClient(t *testing.T) {
	c := &VertexAIClient{config: &ClientConfig{ChatModel: "gemini-2.5-pro"}}

	if _, err := c.Embed("text"); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("expected not initialized error from Embed, got %v", err)
	}
	if _, err := c.Summarize(context.Background(), "a.go", "go", "package a"); err == nil {
		t.Error("expected error from Summarize")
	}
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	if err == nil || !strings.HasPrefix(err.Error(), "completion failed") {
		t.Errorf("expected completion failed error, got %v", err)
	}
}

func TestTemperatureOr(t *testing.T) {
	if got := temperatureOr(CompletionRequest{}, 0.2); got != 0.2 {
		t.Errorf("expected fallback 0.2, got %v", got)
	}
	v := float32(0.9)
	if got := temperatureOr(CompletionRequest{Temperature: &v}, 0.2); got != 0.9 {
		t.Errorf("expected request value 0.9, got %v", got)
	}
}
