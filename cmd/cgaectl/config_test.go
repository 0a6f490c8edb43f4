package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"cgae/internal/train"
)

func TestLoadConfigFileAppliesKnownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	payload := map[string]any{
		"variant":          "equivariant",
		"ncg":              5,
		"bs":               32,
		"epochs":           7,
		"lr":               0.01,
		"temp":             2.5,
		"tmin":             0.2,
		"tdr":              0.9,
		"fm":               true,
		"fm_epoch":         3,
		"fm_co":            0.25,
		"force_temp_coeff": 0.5,
		"wall":             60,
		"seed":             77,
		"save_state":       true,
		"cg_ones":          true,
		"gumble_sm_proj":   true,
		"encoder_hard":     true,
		"precision":        "float32",
		"device":           "cpu",
		"unknown":          "ignored",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadOrDefaultConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := train.Config{
		Variant:        "equivariant",
		NCG:            5,
		BatchSize:      32,
		Epochs:         7,
		LR:             0.01,
		Temp:           2.5,
		TMin:           0.2,
		TDR:            0.9,
		FM:             true,
		FMEpoch:        3,
		FMCo:           0.25,
		ForceTempCoeff: 0.5,
		Wall:           60,
		Seed:           77,
		SaveState:      true,
		CGOnes:         true,
		GumbleSMProj:   true,
		EncoderHard:    true,
		Precision:      "float32",
		Device:         "cpu",
	}
	if cfg != want {
		t.Fatalf("unexpected config:\n got=%+v\nwant=%+v", cfg, want)
	}
}

func TestLoadConfigFileKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(`{"ncg": 4}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadOrDefaultConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := train.DefaultConfig()
	want.NCG = 4
	if cfg != want {
		t.Fatalf("unexpected config:\n got=%+v\nwant=%+v", cfg, want)
	}
}

func TestLoadOrDefaultConfigErrors(t *testing.T) {
	if _, err := loadOrDefaultConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"ncg":`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadOrDefaultConfig(path); err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
	cfg, err := loadOrDefaultConfig("")
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg != train.DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestOverrideFromFlagsOnlyTouchesSetFlags(t *testing.T) {
	cfg := train.DefaultConfig()
	cfg.NCG = 9
	overrideFromFlags(&cfg, map[string]bool{"epochs": true, "seed": true, "nearest": true, "config": true}, map[string]any{
		"ncg":     3,
		"epochs":  12,
		"seed":    int64(5),
		"nearest": true,
	})
	if cfg.NCG != 9 || cfg.Epochs != 12 || cfg.Seed != 5 || !cfg.Nearest {
		t.Fatalf("unexpected config after override: %+v", cfg)
	}
}

func TestNewLoggerFormatsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(zapcore.AddSync(&buf), "warn", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output: %q", out)
	}

	if _, err := newLogger(zapcore.AddSync(&buf), "loud", "json"); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := newLogger(zapcore.AddSync(&buf), "info", "xml"); err == nil {
		t.Fatal("expected error for invalid format")
	}
}
