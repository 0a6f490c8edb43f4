package cgae

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cgae/internal/dataset"
	"cgae/internal/model"
	"cgae/internal/stats"
	"cgae/internal/storage"
	"cgae/internal/train"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "cgae.db"
)

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	// Compress snappy-encodes store payloads and the combined results file.
	Compress bool
	Logger   *zap.Logger
	Progress bool
}

type Client struct {
	store    storage.Store
	logger   *zap.Logger
	progress bool
	compress bool
	now      func() time.Time

	runsDir    string
	exportsDir string
}

type RunRequest struct {
	Config train.Config
	// DataPath is read when Dataset is nil.
	DataPath string
	Dataset  *dataset.Dataset
}

type RunSummary struct {
	RunID        string
	Status       string
	ArtifactsDir string
	Epochs       int
	Steps        int
	FinalLoss    float64
	Elapsed      time.Duration
}

type RunsRequest struct {
	Limit int
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

// RunDetail is a stored run with its epoch summaries.
type RunDetail struct {
	Run       model.RunRecord
	Summaries []model.EpochSummary
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type GenerateRequest struct {
	Options dataset.SyntheticOptions
	OutPath string
}

type GenerateSummary struct {
	Path     string
	Samples  int
	Atoms    int
	Channels int
	Species  []string
}

// results is the single combined record of a run.
type results struct {
	RunID string `json:"run_id"`
	train.Result
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(storeKind, dbPath, opts.Compress)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logger,
		progress:   opts.Progress,
		compress:   opts.Compress,
		now:        time.Now,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Run trains one model and persists it three ways: the store receives a
// running record up front and every epoch summary as it completes, then the
// final record; the runs directory receives the artifacts and an index entry.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	ds := req.Dataset
	if ds == nil {
		if req.DataPath == "" {
			return RunSummary{}, errors.New("run requires a dataset or data path")
		}
		loaded, err := dataset.Load(req.DataPath)
		if err != nil {
			return RunSummary{}, err
		}
		ds = loaded
	}

	cfg := req.Config
	runID := fmt.Sprintf("%s-%s", cfg.Variant, uuid.NewString())
	logger := c.logger.With(zap.String("run_id", runID))

	trainer, err := train.NewTrainer(cfg, ds, train.Options{
		Logger:   logger,
		Progress: c.progress,
		OnEpoch: func(ctx context.Context, summary model.EpochSummary) error {
			summary.RunID = runID
			storage.Stamp(&summary.VersionedRecord)
			return c.store.SaveEpochSummary(ctx, runID, summary)
		},
	})
	if err != nil {
		return RunSummary{}, err
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return RunSummary{}, err
	}
	now := c.now().UTC()
	record := model.RunRecord{
		ID:        runID,
		Variant:   cfg.Variant,
		Status:    model.StatusRunning,
		CreatedAt: now,
		Config:    configJSON,
		Dynamics:  []model.StepRecord{},
	}
	storage.Stamp(&record.VersionedRecord)
	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, err
	}

	result, runErr := trainer.Run(ctx)
	record.Dynamics = result.Dynamics
	record.Epochs = len(result.Summaries)
	record.Elapsed = result.Elapsed
	record.FinalLoss = model.Float(result.FinalLoss())
	// A cancelled run still records its outcome.
	saveCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		record.Status = model.StatusFailed
		if err := c.store.SaveRun(saveCtx, record); err != nil {
			logger.Warn("save failed run", zap.Error(err))
		}
		return RunSummary{}, runErr
	}
	record.Status = result.Status
	record.Encoder = result.Encoder
	record.Decoder = result.Decoder
	if err := c.store.SaveRun(saveCtx, record); err != nil {
		return RunSummary{}, err
	}

	for i := range result.Summaries {
		result.Summaries[i].RunID = runID
		storage.Stamp(&result.Summaries[i].VersionedRecord)
	}
	artifacts := stats.RunArtifacts{
		RunID:     runID,
		Config:    configJSON,
		Dynamics:  result.Dynamics,
		Summaries: result.Summaries,
		Results:   results{RunID: runID, Result: result},
		Compress:  c.compress,
	}
	if cfg.SaveState {
		artifacts.State = &stats.RunState{Encoder: result.Encoder, Decoder: result.Decoder}
	}
	runDir, err := stats.WriteRunArtifacts(c.runsDir, artifacts)
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:          runID,
		Variant:        cfg.Variant,
		Status:         result.Status,
		Seed:           cfg.Seed,
		Beads:          cfg.NCG,
		Epochs:         record.Epochs,
		Steps:          len(result.Dynamics),
		FinalLoss:      record.FinalLoss,
		ElapsedSeconds: result.Elapsed,
		CreatedAtUTC:   now.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}

	logger.Info("run finished",
		zap.String("status", result.Status),
		zap.Int("epochs", record.Epochs),
		zap.Int("steps", len(result.Dynamics)),
		zap.Float64("final_loss", result.FinalLoss()),
		zap.String("artifacts", runDir),
	)
	return RunSummary{
		RunID:        runID,
		Status:       result.Status,
		ArtifactsDir: filepath.Clean(runDir),
		Epochs:       record.Epochs,
		Steps:        len(result.Dynamics),
		FinalLoss:    result.FinalLoss(),
		Elapsed:      time.Duration(result.Elapsed * float64(time.Second)),
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

// StoredRuns lists the runs held by the store, newest first.
func (c *Client) StoredRuns(ctx context.Context) ([]model.RunSummary, error) {
	return c.store.ListRuns(ctx)
}

// Show reads a run from the store, falling back to its artifacts when the
// store does not hold it (for example a memory store in a new process).
func (c *Client) Show(ctx context.Context, req ShowRequest) (RunDetail, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return RunDetail{}, err
	}

	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if ok {
		summaries, err := c.store.ListEpochSummaries(ctx, runID)
		if err != nil {
			return RunDetail{}, err
		}
		return RunDetail{Run: run, Summaries: summaries}, nil
	}
	return c.showFromArtifacts(runID)
}

func (c *Client) showFromArtifacts(runID string) (RunDetail, error) {
	var res results
	ok, err := stats.ReadRunResults(c.runsDir, runID, &res)
	if err != nil {
		return RunDetail{}, err
	}
	if !ok {
		return RunDetail{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	configJSON, err := json.Marshal(res.Config)
	if err != nil {
		return RunDetail{}, err
	}
	run := model.RunRecord{
		ID:        runID,
		Variant:   res.Config.Variant,
		Status:    res.Status,
		Config:    configJSON,
		Dynamics:  res.Dynamics,
		Epochs:    len(res.Summaries),
		Elapsed:   res.Elapsed,
		FinalLoss: model.Float(res.FinalLoss()),
		Encoder:   res.Encoder,
		Decoder:   res.Decoder,
	}
	storage.Stamp(&run.VersionedRecord)
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return RunDetail{}, err
	}
	for _, e := range entries {
		if e.RunID != runID {
			continue
		}
		if created, err := time.Parse(time.RFC3339Nano, e.CreatedAtUTC); err == nil {
			run.CreatedAt = created
		}
		break
	}
	return RunDetail{Run: run, Summaries: res.Summaries}, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Generate writes a synthetic dataset in the format implied by OutPath.
func (c *Client) Generate(_ context.Context, req GenerateRequest) (GenerateSummary, error) {
	if req.OutPath == "" {
		return GenerateSummary{}, errors.New("generate requires an output path")
	}
	ds, err := dataset.Generate(req.Options)
	if err != nil {
		return GenerateSummary{}, err
	}
	if err := dataset.Save(req.OutPath, ds); err != nil {
		return GenerateSummary{}, err
	}
	c.logger.Info("dataset generated",
		zap.String("path", req.OutPath),
		zap.Int("samples", ds.Samples),
		zap.Int("atoms", ds.Atoms),
	)
	return GenerateSummary{
		Path:     filepath.Clean(req.OutPath),
		Samples:  ds.Samples,
		Atoms:    ds.Atoms,
		Channels: ds.Channels,
		Species:  append([]string(nil), ds.Species...),
	}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if runID != "" {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: no runs recorded", ErrRunNotFound)
	}
	return entries[0].RunID, nil
}
