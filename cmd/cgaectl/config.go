package main

import (
	"encoding/json"
	"fmt"
	"os"

	"cgae/internal/train"
)

// loadConfigFile applies the keys of a JSON config file on top of base. Keys
// use the run record names (ncg, bs, fm_epoch, ...); unknown keys are ignored.
func loadConfigFile(path string, base train.Config) (train.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return train.Config{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return train.Config{}, err
	}

	cfg := base
	if v, ok := asString(raw["variant"]); ok {
		cfg.Variant = v
	}
	if v, ok := asInt(raw["ncg"]); ok {
		cfg.NCG = v
	}
	if v, ok := asInt(raw["bs"]); ok {
		cfg.BatchSize = v
	}
	if v, ok := asInt(raw["epochs"]); ok {
		cfg.Epochs = v
	}
	if v, ok := asFloat64(raw["lr"]); ok {
		cfg.LR = v
	}
	if v, ok := asFloat64(raw["temp"]); ok {
		cfg.Temp = v
	}
	if v, ok := asFloat64(raw["tmin"]); ok {
		cfg.TMin = v
	}
	if v, ok := asFloat64(raw["tdr"]); ok {
		cfg.TDR = v
	}
	if v, ok := asBool(raw["fm"]); ok {
		cfg.FM = v
	}
	if v, ok := asInt(raw["fm_epoch"]); ok {
		cfg.FMEpoch = v
	}
	if v, ok := asFloat64(raw["fm_co"]); ok {
		cfg.FMCo = v
	}
	if v, ok := asFloat64(raw["force_temp_coeff"]); ok {
		cfg.ForceTempCoeff = v
	}
	if v, ok := asFloat64(raw["wall"]); ok {
		cfg.Wall = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		cfg.Seed = v
	}
	if v, ok := asBool(raw["save_state"]); ok {
		cfg.SaveState = v
	}
	if v, ok := asBool(raw["cg_ones"]); ok {
		cfg.CGOnes = v
	}
	if v, ok := asBool(raw["gumble_sm_proj"]); ok {
		cfg.GumbleSMProj = v
	}
	if v, ok := asBool(raw["nearest"]); ok {
		cfg.Nearest = v
	}
	if v, ok := asBool(raw["encoder_hard"]); ok {
		cfg.EncoderHard = v
	}
	if v, ok := asString(raw["precision"]); ok {
		cfg.Precision = v
	}
	if v, ok := asString(raw["device"]); ok {
		cfg.Device = v
	}
	return cfg, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// overrideFromFlags copies explicitly set flags over cfg.
func overrideFromFlags(cfg *train.Config, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "variant":
			cfg.Variant = v.(string)
		case "ncg":
			cfg.NCG = v.(int)
		case "bs":
			cfg.BatchSize = v.(int)
		case "epochs":
			cfg.Epochs = v.(int)
		case "lr":
			cfg.LR = v.(float64)
		case "temp":
			cfg.Temp = v.(float64)
		case "tmin":
			cfg.TMin = v.(float64)
		case "tdr":
			cfg.TDR = v.(float64)
		case "fm":
			cfg.FM = v.(bool)
		case "fm-epoch":
			cfg.FMEpoch = v.(int)
		case "fm-co":
			cfg.FMCo = v.(float64)
		case "force-temp-coeff":
			cfg.ForceTempCoeff = v.(float64)
		case "wall":
			cfg.Wall = v.(float64)
		case "seed":
			cfg.Seed = v.(int64)
		case "save-state":
			cfg.SaveState = v.(bool)
		case "cg-ones":
			cfg.CGOnes = v.(bool)
		case "gumble-sm-proj":
			cfg.GumbleSMProj = v.(bool)
		case "nearest":
			cfg.Nearest = v.(bool)
		case "encoder-hard":
			cfg.EncoderHard = v.(bool)
		case "precision":
			cfg.Precision = v.(string)
		case "device":
			cfg.Device = v.(string)
		}
	}
}

func loadOrDefaultConfig(configPath string) (train.Config, error) {
	cfg := train.DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	cfg, err := loadConfigFile(configPath, cfg)
	if err != nil {
		return train.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
