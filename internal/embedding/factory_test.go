package embedding

import (
	"testing"

	"github.com/hyperjump/vecsync/internal/config"
)

func TestNew_Mock(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 12}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 12 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

func TestNew_OpenAIMissingKey(t *testing.T) {
	t.Setenv("VECSYNC_TEST_KEY", "")
	cfg := config.EmbeddingConfig{
		Provider:   config.ProviderOpenAI,
		Dimensions: 8,
		OpenAI:     config.OpenAIConfig{Model: "m", APIKeyEnv: "VECSYNC_TEST_KEY"},
	}
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error when api key env is empty")
	}
}

func TestNew_OpenAI(t *testing.T) {
	t.Setenv("VECSYNC_TEST_KEY", "k")
	cfg := config.EmbeddingConfig{
		Provider:   config.ProviderOpenAI,
		Dimensions: 8,
		BatchSize:  4,
		OpenAI:     config.OpenAIConfig{Model: "m", APIKeyEnv: "VECSYNC_TEST_KEY"},
	}
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*OpenAIEmbedder); !ok {
		t.Errorf("expected *OpenAIEmbedder, got %T", e)
	}
}

func TestNew_ONNXWithoutRuntime(t *testing.T) {
	if ONNXAvailable() {
		t.Skip("onnx runtime build; model file required")
	}
	if _, err := New(config.EmbeddingConfig{Provider: config.ProviderONNX, Dimensions: 8}, nil); err == nil {
		t.Error("expected error when onnx is unavailable")
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New(config.EmbeddingConfig{Provider: "nope", Dimensions: 8}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
