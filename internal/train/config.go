package train

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cgae/internal/assign"
	"cgae/internal/model"
	"cgae/internal/tensor"
)

var ErrDeviceUnavailable = errors.New("compute device unavailable")

// Config is the full training configuration. It is serialized verbatim into
// run records, so field names follow the command-line flags.
type Config struct {
	Variant        string  `json:"variant"`
	NCG            int     `json:"ncg"`
	BatchSize      int     `json:"bs"`
	Epochs         int     `json:"epochs"`
	LR             float64 `json:"lr"`
	Temp           float64 `json:"temp"`
	TMin           float64 `json:"tmin"`
	TDR            float64 `json:"tdr"`
	FM             bool    `json:"fm"`
	FMEpoch        int     `json:"fm_epoch"`
	FMCo           float64 `json:"fm_co"`
	ForceTempCoeff float64 `json:"force_temp_coeff"`
	Wall           float64 `json:"wall"`
	Seed           int64   `json:"seed"`
	SaveState      bool    `json:"save_state"`
	CGOnes         bool    `json:"cg_ones"`
	GumbleSMProj   bool    `json:"gumble_sm_proj"`
	Nearest        bool    `json:"nearest"`
	EncoderHard    bool    `json:"encoder_hard"`
	Precision      string  `json:"precision"`
	Device         string  `json:"device"`
}

func DefaultConfig() Config {
	return Config{
		Variant:        model.VariantDense,
		NCG:            3,
		BatchSize:      16,
		Epochs:         100,
		LR:             0.005,
		Temp:           4,
		TMin:           0.1,
		TDR:            0.95,
		FMCo:           1,
		ForceTempCoeff: 1,
		Wall:           3600,
		Precision:      string(tensor.Float64),
		Device:         "cpu",
	}
}

func (c Config) Validate() error {
	switch c.Variant {
	case model.VariantDense, model.VariantEquivariant:
	default:
		return fmt.Errorf("unsupported variant: %s", c.Variant)
	}
	if c.NCG <= 0 {
		return fmt.Errorf("ncg must be > 0, got %d", c.NCG)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("bs must be > 0, got %d", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0, got %d", c.Epochs)
	}
	if c.LR < 0 {
		return fmt.Errorf("lr must be >= 0, got %f", c.LR)
	}
	if c.Temp <= 0 {
		return fmt.Errorf("temp must be > 0, got %f", c.Temp)
	}
	if c.TMin <= 0 {
		return fmt.Errorf("tmin must be > 0, got %f", c.TMin)
	}
	if c.TDR <= 0 || c.TDR > 1 {
		return fmt.Errorf("tdr must be in (0, 1], got %f", c.TDR)
	}
	if c.FMEpoch < 0 {
		return fmt.Errorf("fm_epoch must be >= 0, got %d", c.FMEpoch)
	}
	if c.FMCo < 0 {
		return fmt.Errorf("fm_co must be >= 0, got %f", c.FMCo)
	}
	if c.ForceTempCoeff <= 0 {
		return fmt.Errorf("force_temp_coeff must be > 0, got %f", c.ForceTempCoeff)
	}
	if c.Wall <= 0 {
		return fmt.Errorf("wall must be > 0, got %f", c.Wall)
	}
	if _, err := tensor.ParsePrecision(c.Precision); err != nil {
		return err
	}
	if device := strings.ToLower(strings.TrimSpace(c.Device)); device != "" && device != "cpu" {
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, c.Device)
	}
	return nil
}

// Source is the assignment feeding the projection target.
func (c Config) Source() assign.Source {
	return assign.SourceFromFlags(c.GumbleSMProj, c.Nearest)
}

func (c Config) WallBudget() time.Duration {
	return time.Duration(c.Wall * float64(time.Second))
}

func (c Config) forceMatchingAt(epoch int) bool {
	return c.FM && epoch >= c.FMEpoch
}
