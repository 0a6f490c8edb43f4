package model

import (
	"encoding/json"
	"fmt"
	"time"

	"cgae/internal/tensor"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	VariantDense       = "dense"
	VariantEquivariant = "equivariant"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusWall      = "wall_budget"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Array is a dense row-major tensor value detached from any graph.
type Array struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func ArrayOf(t *tensor.Tensor) *Array {
	if t == nil {
		return nil
	}
	return &Array{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

func (a *Array) Tensor() *tensor.Tensor {
	return tensor.New(a.Shape, append([]float64(nil), a.Data...))
}

type arrayJSON struct {
	Shape []int   `json:"shape"`
	Data  []Float `json:"data"`
}

func (a Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(arrayJSON{Shape: a.Shape, Data: floatsOf(a.Data)})
}

func (a *Array) UnmarshalJSON(data []byte) error {
	var raw arrayJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n := 1
	for _, d := range raw.Shape {
		n *= d
	}
	if n != len(raw.Data) {
		return fmt.Errorf("array shape %v needs %d values, got %d", raw.Shape, n, len(raw.Data))
	}
	a.Shape = raw.Shape
	a.Data = make([]float64, len(raw.Data))
	for i, v := range raw.Data {
		a.Data[i] = float64(v)
	}
	return nil
}

// StepRecord is written once per optimizer step.
type StepRecord struct {
	LossAE Float `json:"loss_ae" csv:"loss_ae"`
	LossFM Float `json:"loss_fm" csv:"loss_fm"`
	Loss   Float `json:"loss" csv:"loss"`
	Epoch  int   `json:"epoch" csv:"epoch"`
	Step   int   `json:"step" csv:"step"`
	Batch  int   `json:"batch" csv:"batch"`
}

type LossStats struct {
	Mean   Float `json:"mean"`
	Median Float `json:"median"`
	StdDev Float `json:"stddev"`
	Min    Float `json:"min"`
	Max    Float `json:"max"`
}

// EpochSummary closes an epoch that finished inside the wall budget. The
// embedded step is the epoch's last one. Which arrays are set depends on the
// variant.
type EpochSummary struct {
	VersionedRecord
	RunID string `json:"run_id,omitempty"`
	StepRecord
	Temperature Float     `json:"temp"`
	Stats       LossStats `json:"loss_stats"`

	CGXYZ    *Array `json:"cg_xyz"`
	Gumbel   *Array `json:"gumble"`
	STGumbel *Array `json:"st_gumble"`

	Reconstructed *Array `json:"reconstructed,omitempty"`

	PredSph *Array `json:"pred_sph,omitempty"`
	Sph     *Array `json:"sph,omitempty"`
	Nearest *Array `json:"nearest,omitempty"`
}

// RunRecord is the persisted outcome of one training run.
type RunRecord struct {
	VersionedRecord
	ID        string          `json:"id"`
	Variant   string          `json:"variant"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Config    json.RawMessage `json:"config"`
	Dynamics  []StepRecord    `json:"dynamics"`
	Epochs    int             `json:"epochs_completed"`
	Elapsed   float64         `json:"elapsed_seconds"`
	FinalLoss Float           `json:"final_loss"`

	Encoder map[string]*Array `json:"encoder,omitempty"`
	Decoder map[string]*Array `json:"decoder,omitempty"`
}

// RunSummary is the listing view of a run.
type RunSummary struct {
	ID        string    `json:"id"`
	Variant   string    `json:"variant"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Epochs    int       `json:"epochs_completed"`
	FinalLoss Float     `json:"final_loss"`
}

func (r RunRecord) Summary() RunSummary {
	return RunSummary{
		ID:        r.ID,
		Variant:   r.Variant,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		Epochs:    r.Epochs,
		FinalLoss: r.FinalLoss,
	}
}
