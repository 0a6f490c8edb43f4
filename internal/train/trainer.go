// Package train runs the coarse-graining autoencoder: it anneals the
// assignment temperature per epoch, visits batches in a seeded random order,
// and combines the reconstruction loss with the optional force-matching term
// into one optimizer step per batch.
package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"cgae/internal/anneal"
	"cgae/internal/assign"
	"cgae/internal/dataset"
	"cgae/internal/model"
	"cgae/internal/nn"
	"cgae/internal/optim"
	"cgae/internal/projection"
	"cgae/internal/stats"
	"cgae/internal/tensor"
)

// Options carries the collaborators of a run. Zero values are usable.
type Options struct {
	Logger *zap.Logger
	// Progress draws a progress bar over each epoch's batches on stderr.
	Progress bool
	// Clock reads wall time for the budget check; time.Now when nil.
	Clock func() time.Time
	// OnEpoch observes every summary as it is appended. An error aborts the
	// run.
	OnEpoch func(ctx context.Context, summary model.EpochSummary) error
}

// Result is the single record produced by a run.
type Result struct {
	Config    Config                  `json:"args"`
	Dynamics  []model.StepRecord      `json:"dynamics"`
	Summaries []model.EpochSummary    `json:"summaries"`
	Encoder   map[string]*model.Array `json:"encoder"`
	Decoder   map[string]*model.Array `json:"decoder"`
	Status    string                  `json:"status"`
	Elapsed   float64                 `json:"elapsed_seconds"`
}

// FinalLoss is the total loss of the last recorded step, or zero.
func (r Result) FinalLoss() float64 {
	if len(r.Dynamics) == 0 {
		return 0
	}
	return float64(r.Dynamics[len(r.Dynamics)-1].Loss)
}

// Trainer owns the modules and optimizer of one run. Encoder and decoders are
// exported so callers can inspect or pin parameters before Run.
type Trainer struct {
	Config       Config
	Encoder      *nn.Encoder
	DenseDecoder *nn.DenseDecoder
	Decoder      nn.Decoder

	opts      Options
	logger    *zap.Logger
	precision tensor.Precision
	rng       *rand.Rand
	sampler   *assign.Sampler
	optimizer *optim.Adam
	schedule  anneal.Schedule
	batches   *dataset.Batches
	bank      *tensor.Tensor
	counts    []float64
	source    assign.Source
}

// NewTrainer validates the configuration against the data, seeds the random
// source and initializes the modules for the configured variant.
func NewTrainer(cfg Config, ds *dataset.Dataset, opts Options) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	precision, err := tensor.ParsePrecision(cfg.Precision)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ds.Round(precision)
	batches, err := dataset.Batch(ds, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	t := &Trainer{
		Config:    cfg,
		opts:      opts,
		logger:    logger,
		precision: precision,
		rng:       rng,
		sampler:   assign.NewSampler(rng),
		schedule:  anneal.Exponential(cfg.Epochs, cfg.TDR, cfg.Temp, cfg.TMin),
		batches:   batches,
		source:    cfg.Source(),
	}

	t.Encoder, err = nn.NewEncoder(ds.Atoms, cfg.NCG, cfg.EncoderHard, rng)
	if err != nil {
		return nil, err
	}
	modules := []nn.Module{t.Encoder}
	switch cfg.Variant {
	case model.VariantDense:
		t.DenseDecoder, err = nn.NewDenseDecoder(cfg.NCG, ds.Atoms, rng)
		if err != nil {
			return nil, err
		}
		modules = append(modules, t.DenseDecoder)
	case model.VariantEquivariant:
		t.bank = nn.FeatureBank(cfg.NCG, cfg.CGOnes)
		t.Decoder, err = nn.NewLinearEquivariantDecoder(t.bank.Dim(1), cfg.NCG, ds.Channels, rng)
		if err != nil {
			return nil, err
		}
		t.counts = projection.ChannelCounts(ds.FeatureTensor())
		modules = append(modules, t.Decoder)
	}

	params := nn.CollectParameters(modules...)
	for _, p := range params {
		precision.RoundInPlace(p.Data)
	}
	t.optimizer = optim.NewAdam(params, cfg.LR)
	t.optimizer.Precision = precision
	return t, nil
}

// stepOutput keeps the tensors of the latest step for the epoch summary.
type stepOutput struct {
	record  model.StepRecord
	cg      *tensor.Tensor
	decoded *tensor.Tensor
	pred    *tensor.Tensor
	target  *tensor.Tensor
	relaxed assign.Relaxed
	nearest *tensor.Tensor
	finite  bool
}

// Run trains until every epoch is done, the wall budget is exceeded or ctx is
// cancelled. Both stop conditions are checked only after an epoch completes,
// so an epoch that has started always runs to the end and its step records
// are kept; the summary of the epoch that trips the check is not appended.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	cfg := t.Config
	result := Result{
		Config:    cfg,
		Dynamics:  make([]model.StepRecord, 0, cfg.Epochs*t.batches.N),
		Summaries: []model.EpochSummary{},
		Status:    model.StatusCompleted,
	}
	start := t.opts.Clock()
	warnedNonFinite := false
	t.logger.Info("training started",
		zap.String("variant", cfg.Variant),
		zap.Int("batches", t.batches.N),
		zap.Int("epochs", cfg.Epochs),
		zap.Stringer("source", t.source),
	)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		temp := t.schedule.At(epoch)
		perm := t.rng.Perm(t.batches.N)
		losses := make([]float64, 0, t.batches.N)
		var last *stepOutput

		err := eachStep(t.batches.N, fmt.Sprintf("epoch %d", epoch), t.opts.Progress, func(step int) error {
			out, err := t.step(epoch, step, perm[step], temp)
			if err != nil {
				return err
			}
			result.Dynamics = append(result.Dynamics, out.record)
			losses = append(losses, float64(out.record.Loss))
			last = out
			if !out.finite && !warnedNonFinite {
				warnedNonFinite = true
				t.logger.Warn("non-finite loss",
					zap.Int("epoch", epoch),
					zap.Int("step", step),
					zap.Float64("loss_ae", float64(out.record.LossAE)),
					zap.Float64("loss_fm", float64(out.record.LossFM)),
				)
			}
			t.logger.Debug("step",
				zap.Int("epoch", epoch),
				zap.Int("step", step),
				zap.Int("batch", out.record.Batch),
				zap.Float64("loss", float64(out.record.Loss)),
			)
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		elapsed := t.opts.Clock().Sub(start)
		result.Elapsed = elapsed.Seconds()
		if elapsed > cfg.WallBudget() {
			t.logger.Info("wall budget exceeded",
				zap.Int("epoch", epoch),
				zap.Duration("elapsed", elapsed),
				zap.Float64("wall", cfg.Wall),
			)
			result.Status = model.StatusWall
			break
		}
		if ctx.Err() != nil {
			t.logger.Info("training cancelled", zap.Int("epoch", epoch), zap.Error(ctx.Err()))
			result.Status = model.StatusCanceled
			break
		}

		summary, err := t.summarize(epoch, temp, last, losses)
		if err != nil {
			return result, err
		}
		result.Summaries = append(result.Summaries, summary)
		t.logger.Info("epoch completed",
			zap.Int("epoch", epoch),
			zap.Float64("temp", temp),
			zap.Float64("loss", float64(last.record.Loss)),
			zap.Float64("loss_ae", float64(last.record.LossAE)),
			zap.Float64("loss_fm", float64(last.record.LossFM)),
			zap.Float64("mean_loss", float64(summary.Stats.Mean)),
			zap.Duration("elapsed", elapsed),
		)
		if t.opts.OnEpoch != nil {
			if err := t.opts.OnEpoch(ctx, summary); err != nil {
				return result, fmt.Errorf("epoch %d hook: %w", epoch, err)
			}
		}
	}

	if cfg.SaveState {
		result.Encoder = stateOf(t.Encoder)
		if t.DenseDecoder != nil {
			result.Decoder = stateOf(t.DenseDecoder)
		} else {
			result.Decoder = stateOf(t.Decoder)
		}
	}
	return result, nil
}

func (t *Trainer) step(epoch, step, batch int, temp float64) (*stepOutput, error) {
	geo := t.batches.Geometries[batch]
	out := &stepOutput{record: model.StepRecord{Epoch: epoch, Step: step, Batch: batch}}

	cg, err := t.Encoder.Forward(geo, temp)
	if err != nil {
		return nil, err
	}
	out.cg = cg

	var lossAE *tensor.Tensor
	switch t.Config.Variant {
	case model.VariantDense:
		out.decoded = t.DenseDecoder.Forward(cg)
		lossAE = nn.ReconstructionLoss(out.decoded, geo)
	case model.VariantEquivariant:
		out.relaxed = t.sampler.Sample(t.Encoder.Logits(), temp)
		out.nearest = assign.Nearest(cg, geo)
		rel := projection.RelativeDisplacements(geo, cg)
		out.target = projection.Project(rel, t.source.Pick(out.relaxed, out.nearest), t.batches.Features[batch])
		out.pred = t.Decoder.Decode(t.bank, cg)
		lossAE = projection.Loss(out.target, out.pred, t.counts)
	}

	loss := lossAE
	lossFM := 0.0
	if t.Config.forceMatchingAt(epoch) {
		fm := t.forceLoss(t.batches.Forces[batch], temp)
		lossFM = fm.Item()
		loss = tensor.Add(lossAE, tensor.Scale(fm, t.Config.FMCo))
	}
	out.record.LossAE = model.Float(lossAE.Item())
	out.record.LossFM = model.Float(lossFM)
	out.record.Loss = model.Float(loss.Item())
	out.finite = loss.IsFinite()

	t.optimizer.ZeroGrad()
	if err := tensor.Backward(loss); err != nil {
		return nil, err
	}
	t.optimizer.Step()
	return out, nil
}

// forceLoss aggregates per-atom forces into per-bead forces with a fresh soft
// sample at temp*ForceTempCoeff and returns the mean squared bead force.
func (t *Trainer) forceLoss(force *tensor.Tensor, temp float64) *tensor.Tensor {
	relaxed := t.sampler.Sample(t.Encoder.Logits(), temp*t.Config.ForceTempCoeff)
	cgForce := tensor.BatchMatMul(tensor.Transpose(relaxed.Soft), force)
	return tensor.Mean(tensor.SumLast(tensor.Square(cgForce)))
}

func (t *Trainer) summarize(epoch int, temp float64, last *stepOutput, losses []float64) (model.EpochSummary, error) {
	lossStats, err := stats.SummarizeLosses(losses)
	if err != nil {
		return model.EpochSummary{}, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	summary := model.EpochSummary{
		StepRecord:  last.record,
		Temperature: model.Float(temp),
		Stats:       lossStats,
		CGXYZ:       model.ArrayOf(last.cg),
	}
	switch t.Config.Variant {
	case model.VariantDense:
		logits := t.Encoder.Logits()
		summary.Gumbel = model.ArrayOf(t.sampler.Sample(logits, temp).Soft)
		summary.STGumbel = model.ArrayOf(t.sampler.Sample(logits, temp).Hard)
		summary.Reconstructed = model.ArrayOf(last.decoded)
	case model.VariantEquivariant:
		summary.Gumbel = model.ArrayOf(last.relaxed.Soft)
		summary.STGumbel = model.ArrayOf(last.relaxed.Hard)
		summary.PredSph = model.ArrayOf(last.pred)
		summary.Sph = model.ArrayOf(last.target)
		summary.Nearest = model.ArrayOf(last.nearest)
	}
	return summary, nil
}

func stateOf(m nn.Module) map[string]*model.Array {
	out := make(map[string]*model.Array)
	for name, p := range m.State() {
		out[name] = model.ArrayOf(p)
	}
	return out
}
