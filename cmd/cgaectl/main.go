package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"cgae/internal/dataset"
	"cgae/internal/storage"
	"cgae/internal/train"
	cgaeapi "cgae/pkg/cgae"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	dbPath     = "cgae.db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type clientFlags struct {
	storeKind *string
	dbPath    *string
	runsDir   *string
	compress  *bool
	logLevel  *string
	logFormat *string
}

func registerClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", dbPath, "sqlite database path"),
		runsDir:   fs.String("runs-dir", runsDir, "run artifacts directory"),
		compress:  fs.Bool("compress", false, "snappy-compress store payloads and results.json"),
		logLevel:  fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logFormat: fs.String("log-format", "console", "log format: console|json"),
	}
}

func (f clientFlags) open(progress bool) (*cgaeapi.Client, *zap.Logger, error) {
	logger, err := stderrLogger(*f.logLevel, *f.logFormat)
	if err != nil {
		return nil, nil, err
	}
	client, err := cgaeapi.New(cgaeapi.Options{
		StoreKind: *f.storeKind,
		DBPath:    *f.dbPath,
		RunsDir:   *f.runsDir,
		Compress:  *f.compress,
		Logger:    logger,
		Progress:  progress,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return client, logger, nil
}

func runRun(ctx context.Context, args []string) error {
	defaults := train.DefaultConfig()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path; explicit flags win")
	dataPath := fs.String("data", "", "dataset path (.json or .csv)")
	variant := fs.String("variant", defaults.Variant, "model variant: dense|equivariant")
	ncg := fs.Int("ncg", defaults.NCG, "number of coarse-grained beads")
	batchSize := fs.Int("bs", defaults.BatchSize, "batch size")
	epochs := fs.Int("epochs", defaults.Epochs, "epoch count")
	lr := fs.Float64("lr", defaults.LR, "optimizer learning rate")
	temp := fs.Float64("temp", defaults.Temp, "initial gumbel-softmax temperature")
	tmin := fs.Float64("tmin", defaults.TMin, "temperature floor")
	tdr := fs.Float64("tdr", defaults.TDR, "temperature decay rate per epoch")
	fm := fs.Bool("fm", defaults.FM, "enable force matching")
	fmEpoch := fs.Int("fm-epoch", defaults.FMEpoch, "epoch at which force matching starts")
	fmCo := fs.Float64("fm-co", defaults.FMCo, "force matching loss weight")
	forceTempCoeff := fs.Float64("force-temp-coeff", defaults.ForceTempCoeff, "temperature multiplier for the force matching sample")
	wall := fs.Float64("wall", defaults.Wall, "wall clock budget in seconds, checked after each epoch")
	seed := fs.Int64("seed", defaults.Seed, "rng seed")
	saveState := fs.Bool("save-state", defaults.SaveState, "persist learned encoder and decoder parameters")
	cgOnes := fs.Bool("cg-ones", defaults.CGOnes, "use a constant bead feature instead of one-hot bead identity")
	gumbleSMProj := fs.Bool("gumble-sm-proj", defaults.GumbleSMProj, "project with the soft assignment")
	nearest := fs.Bool("nearest", defaults.Nearest, "project with the nearest-centroid assignment")
	encoderHard := fs.Bool("encoder-hard", defaults.EncoderHard, "encode with the straight-through hard assignment")
	precision := fs.String("precision", defaults.Precision, "numeric precision: float64|float32")
	device := fs.String("device", defaults.Device, "compute device")
	progress := fs.Bool("progress", isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()), "draw a progress bar per epoch")
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return errors.New("run requires --data")
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultConfig(*configPath)
	if err != nil {
		return err
	}
	overrideFromFlags(&cfg, setFlags, map[string]any{
		"variant":          *variant,
		"ncg":              *ncg,
		"bs":               *batchSize,
		"epochs":           *epochs,
		"lr":               *lr,
		"temp":             *temp,
		"tmin":             *tmin,
		"tdr":              *tdr,
		"fm":               *fm,
		"fm-epoch":         *fmEpoch,
		"fm-co":            *fmCo,
		"force-temp-coeff": *forceTempCoeff,
		"wall":             *wall,
		"seed":             *seed,
		"save-state":       *saveState,
		"cg-ones":          *cgOnes,
		"gumble-sm-proj":   *gumbleSMProj,
		"nearest":          *nearest,
		"encoder-hard":     *encoderHard,
		"precision":        *precision,
		"device":           *device,
	})

	client, logger, err := cf.open(*progress)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
		_ = logger.Sync()
	}()

	summary, err := client.Run(ctx, cgaeapi.RunRequest{Config: cfg, DataPath: *dataPath})
	if err != nil {
		return err
	}
	size, err := dirSize(summary.ArtifactsDir)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s status=%s epochs=%d steps=%d final_loss=%.6f elapsed=%s artifacts=%s size=%s\n",
		summary.RunID,
		summary.Status,
		summary.Epochs,
		summary.Steps,
		summary.FinalLoss,
		summary.Elapsed.Round(time.Millisecond),
		summary.ArtifactsDir,
		humanize.Bytes(uint64(size)),
	)
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	defaults := dataset.DefaultSyntheticOptions()
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	out := fs.String("out", "", "output dataset path (.json or .csv)")
	samples := fs.Int("samples", defaults.Samples, "sample count")
	atoms := fs.Int("atoms", defaults.Atoms, "atoms per molecule")
	species := fs.String("species", strings.Join(defaults.Species, ","), "comma separated species pattern repeated along the chain")
	bond := fs.Float64("bond", defaults.Bond, "reference bond length")
	noise := fs.Float64("noise", defaults.Noise, "displacement standard deviation")
	stiffness := fs.Float64("stiffness", defaults.Stiffness, "harmonic restoring constant")
	seed := fs.Int64("seed", defaults.Seed, "rng seed")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	logFormat := fs.String("log-format", "console", "log format: console|json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("generate requires --out")
	}

	logger, err := stderrLogger(*logLevel, *logFormat)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	client, err := cgaeapi.New(cgaeapi.Options{StoreKind: "memory", Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Generate(ctx, cgaeapi.GenerateRequest{
		Options: dataset.SyntheticOptions{
			Samples:   *samples,
			Atoms:     *atoms,
			Species:   splitList(*species),
			Bond:      *bond,
			Noise:     *noise,
			Stiffness: *stiffness,
			Seed:      *seed,
		},
		OutPath: *out,
	})
	if err != nil {
		return err
	}
	fmt.Printf("generated path=%s samples=%s atoms=%d channels=%d species=%s\n",
		summary.Path,
		humanize.Comma(int64(summary.Samples)),
		summary.Atoms,
		summary.Channels,
		strings.Join(summary.Species, ","),
	)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	stored := fs.Bool("stored", false, "list runs from the store instead of the run index")
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, logger, err := cf.open(false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
		_ = logger.Sync()
	}()

	if *stored {
		return printStoredRuns(ctx, client, *limit, *jsonOut)
	}
	entries, err := client.Runs(ctx, cgaeapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	for _, e := range entries {
		created := e.CreatedAtUTC
		if t, err := time.Parse(time.RFC3339Nano, e.CreatedAtUTC); err == nil {
			created = humanize.Time(t)
		}
		fmt.Printf("run_id=%s created=%q variant=%s status=%s seed=%d ncg=%d epochs=%d steps=%d final_loss=%s elapsed=%.3fs\n",
			e.RunID,
			created,
			e.Variant,
			e.Status,
			e.Seed,
			e.Beads,
			e.Epochs,
			e.Steps,
			e.FinalLoss,
			e.ElapsedSeconds,
		)
	}
	return nil
}

func printStoredRuns(ctx context.Context, client *cgaeapi.Client, limit int, jsonOut bool) error {
	runs, err := client.StoredRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s created=%q variant=%s status=%s epochs=%d final_loss=%s\n",
			r.ID,
			humanize.Time(r.CreatedAt),
			r.Variant,
			r.Status,
			r.Epochs,
			r.FinalLoss,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from run index")
	jsonOut := fs.Bool("json", false, "emit the run and its epoch summaries as JSON")
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("show requires --run-id or --latest")
	}

	client, logger, err := cf.open(false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
		_ = logger.Sync()
	}()

	detail, err := client.Show(ctx, cgaeapi.ShowRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	}

	r := detail.Run
	fmt.Printf("run_id=%s variant=%s status=%s created=%q epochs=%d steps=%d final_loss=%s elapsed=%.3fs\n",
		r.ID,
		r.Variant,
		r.Status,
		humanize.Time(r.CreatedAt),
		r.Epochs,
		len(r.Dynamics),
		r.FinalLoss,
		r.Elapsed,
	)
	for _, s := range detail.Summaries {
		fmt.Printf("epoch=%d temp=%s loss=%s loss_ae=%s loss_fm=%s mean=%s median=%s min=%s max=%s\n",
			s.Epoch,
			s.Temperature,
			s.Loss,
			s.LossAE,
			s.LossFM,
			s.Stats.Mean,
			s.Stats.Median,
			s.Stats.Min,
			s.Stats.Max,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	dir := fs.String("runs-dir", runsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := cgaeapi.New(cgaeapi.Options{StoreKind: "memory", RunsDir: *dir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, cgaeapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	size, err := dirSize(exported.Directory)
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s size=%s\n", exported.RunID, exported.Directory, humanize.Bytes(uint64(size)))
	return nil
}

func dirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: cgaectl <run|generate|runs|show|export> [flags]", msg)
}
