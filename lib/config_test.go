package lib

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Valid(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigOrDefault(t *testing.T) {
	t.Run("empty filename gives defaults", func(t *testing.T) {
		cfg, err := LoadConfigOrDefault("")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Admission.Limit != 8 {
			t.Errorf("wanted default admission limit 8, got: %d", cfg.Admission.Limit)
		}
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(fname, []byte("challengeExpiry: 45s\nadmission:\n  limit: 4\n"), 0600); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfigOrDefault(fname)
		if err != nil {
			t.Fatal(err)
		}

		if cfg.ChallengeExpiry != 45*time.Second {
			t.Errorf("wanted 45s expiry, got: %s", cfg.ChallengeExpiry)
		}
		if cfg.Admission.Limit != 4 {
			t.Errorf("wanted limit 4, got: %d", cfg.Admission.Limit)
		}
		if cfg.Admission.Window != 10*time.Second {
			t.Errorf("wanted the default 10s window, got: %s", cfg.Admission.Window)
		}
		if cfg.Classifier.MinPoints != 10 {
			t.Errorf("wanted the default classifier, got minPoints %d", cfg.Classifier.MinPoints)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfigOrDefault(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatal("wanted an error for a missing file")
		}
	})
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero expiry", func(c *Config) { c.ChallengeExpiry = 0 }},
		{"zero admission limit", func(c *Config) { c.Admission.Limit = 0 }},
		{"zero admission window", func(c *Config) { c.Admission.Window = 0 }},
		{"zero tolerance", func(c *Config) { c.SlidePuzzle.Tolerance = 0 }},
		{"overlapping bands", func(c *Config) { c.SlidePuzzle.Tolerance = 20 }},
		{"nil classifier", func(c *Config) { c.Classifier = nil }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			if err := cfg.Valid(); !errors.Is(err, ErrBadConfig) {
				t.Fatalf("wanted ErrBadConfig, got: %v", err)
			}
		})
	}
}
