package gemini

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"docqa/internal/domain"
)

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("DOCQA_TEST_MISSING_KEY", "")
	_, err := NewClient(context.Background(), Config{APIKeyEnv: "DOCQA_TEST_MISSING_KEY"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("got %v, want configuration error", err)
	}
}

func TestEmbed_Live(t *testing.T) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, Config{APIKeyEnv: "GEMINI_API_KEY", Timeout: 20 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer c.Close()

	a, err := c.Embed(ctx, "The sky is blue.")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := c.Embed(ctx, "Grass is green.")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("got dimensions %d and %d", len(a), len(b))
	}
}
