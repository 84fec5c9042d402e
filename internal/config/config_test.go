package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewFromEnv(t *testing.T) {
	// Helper function to set environment variables for a test
	setEnv := func(key, value string) {
		t.Helper()
		t.Setenv(key, value)
	}

	t.Run("Success", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("DATABASE_DRIVER", "sqlite")
		setEnv("DATABASE_DSN", "/tmp/planner.db")
		setEnv("GENERATION_TIMEOUT", "5s")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.GeminiAPIKey != "gemini_key" {
			t.Errorf("Expected GeminiAPIKey to be 'gemini_key', got '%s'", cfg.GeminiAPIKey)
		}
		if cfg.DatabaseDSN != "/tmp/planner.db" {
			t.Errorf("Expected DatabaseDSN to be '/tmp/planner.db', got '%s'", cfg.DatabaseDSN)
		}
		if cfg.GenerationTimeout != 5*time.Second {
			t.Errorf("Expected GenerationTimeout to be 5s, got %v", cfg.GenerationTimeout)
		}
		if cfg.EmbeddingModel != "text-embedding-004" {
			t.Errorf("Expected default EmbeddingModel, got '%s'", cfg.EmbeddingModel)
		}
		if cfg.Engine.MaxRecipeRepeats != 2 {
			t.Errorf("Expected default MaxRecipeRepeats 2, got %d", cfg.Engine.MaxRecipeRepeats)
		}
	})

	t.Run("MissingGeminiAPIKey", func(t *testing.T) {
		setEnv("EMBEDDING_PROVIDER", "gemini")
		os.Unsetenv("GEMINI_API_KEY")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GEMINI_API_KEY, got nil")
		}
		expectedError := "GEMINI_API_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("OfflineProviderNeedsNoKey", func(t *testing.T) {
		setEnv("EMBEDDING_PROVIDER", "none")
		os.Unsetenv("GEMINI_API_KEY")
		os.Unsetenv("DATABASE_DSN")
		setEnv("DATABASE_DRIVER", "sqlite")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.DatabaseDSN != "data/planner.db" {
			t.Errorf("Expected default sqlite DSN, got '%s'", cfg.DatabaseDSN)
		}
	})

	t.Run("PostgresRequiresDSN", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("DATABASE_DRIVER", "postgres")
		os.Unsetenv("DATABASE_DSN")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing DATABASE_DSN, got nil")
		}
		expectedError := "DATABASE_DSN environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("InvalidMaxRepeats", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("DATABASE_DRIVER", "sqlite")
		setEnv("MAX_RECIPE_REPEATS", "zero")

		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for invalid MAX_RECIPE_REPEATS, got nil")
		}
	})

	t.Run("EngineFileOverlay", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		content := "top_k: 9\nallow_repeat_overflow: true\nweights:\n  semantic: 0.5\n  kcal_proximity: 0.4\n  tag: 0.1\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write engine file: %v", err)
		}
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("DATABASE_DRIVER", "sqlite")
		setEnv("MAX_RECIPE_REPEATS", "1")
		setEnv("ENGINE_CONFIG_FILE", path)

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.Engine.TopK != 9 {
			t.Errorf("Expected TopK 9, got %d", cfg.Engine.TopK)
		}
		if !cfg.Engine.AllowRepeatOverflow {
			t.Errorf("Expected AllowRepeatOverflow to be true")
		}
		if cfg.Engine.Weights.KcalProximity != 0.4 {
			t.Errorf("Expected KcalProximity weight 0.4, got %v", cfg.Engine.Weights.KcalProximity)
		}
		if cfg.Engine.MaxRecipeRepeats != 1 {
			t.Errorf("Expected env override MaxRecipeRepeats 1, got %d", cfg.Engine.MaxRecipeRepeats)
		}
		if len(cfg.Engine.MealSplits) != 4 {
			t.Errorf("Expected default meal splits to survive overlay, got %d", len(cfg.Engine.MealSplits))
		}
	})
}

func TestEngineValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Engine)
		wantErr bool
	}{
		{name: "Defaults", mutate: func(e *Engine) {}},
		{name: "SplitsNotSummingToOne", mutate: func(e *Engine) { e.MealSplits[0].Ratio = 0.5 }, wantErr: true},
		{name: "DuplicateMealType", mutate: func(e *Engine) { e.MealSplits[1].MealType = "breakfast" }, wantErr: true},
		{name: "NegativeWeight", mutate: func(e *Engine) { e.Weights.Tag = -0.1 }, wantErr: true},
		{name: "ZeroTopK", mutate: func(e *Engine) { e.TopK = 0 }, wantErr: true},
		{name: "ZeroRepeats", mutate: func(e *Engine) { e.MaxRecipeRepeats = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DefaultEngine()
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
