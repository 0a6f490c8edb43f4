package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/golang/snappy"

	"cgae/internal/model"
)

const (
	runIndexFile          = "run_index.json"
	configFile            = "config.json"
	dynamicsFile          = "dynamics.csv"
	summariesFile         = "summaries.json"
	stateFile             = "state.json"
	resultsFile           = "results.json"
	compressedResultsFile = "results.json.sz"
)

// RunArtifacts is everything written under runs/<run_id>/. Results is the
// single serialized record of the run; State is only written when non-nil.
type RunArtifacts struct {
	RunID     string
	Config    json.RawMessage
	Dynamics  []model.StepRecord
	Summaries []model.EpochSummary
	State     *RunState
	Results   any
	Compress  bool
}

type RunState struct {
	Encoder map[string]*model.Array `json:"encoder"`
	Decoder map[string]*model.Array `json:"decoder"`
}

type RunIndexEntry struct {
	RunID          string      `json:"run_id"`
	Variant        string      `json:"variant"`
	Status         string      `json:"status"`
	Seed           int64       `json:"seed"`
	Beads          int         `json:"ncg"`
	Epochs         int         `json:"epochs_completed"`
	Steps          int         `json:"steps"`
	FinalLoss      model.Float `json:"final_loss"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	CreatedAtUTC   string      `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if len(artifacts.Config) > 0 {
		if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
			return "", err
		}
	}
	if err := WriteDynamics(filepath.Join(runDir, dynamicsFile), artifacts.Dynamics); err != nil {
		return "", err
	}
	summaries := artifacts.Summaries
	if summaries == nil {
		summaries = []model.EpochSummary{}
	}
	if err := writeJSON(filepath.Join(runDir, summariesFile), summaries); err != nil {
		return "", err
	}
	if artifacts.State != nil {
		if err := writeJSON(filepath.Join(runDir, stateFile), artifacts.State); err != nil {
			return "", err
		}
	}
	if artifacts.Results != nil {
		if artifacts.Compress {
			err := writeCompressedJSON(filepath.Join(runDir, compressedResultsFile), artifacts.Results)
			if err != nil {
				return "", err
			}
		} else if err := writeJSON(filepath.Join(runDir, resultsFile), artifacts.Results); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

// WriteDynamics writes one CSV row per optimizer step.
func WriteDynamics(path string, records []model.StepRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if records == nil {
		records = []model.StepRecord{}
	}
	if err := gocsv.Marshal(&records, f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Sync()
}

func ReadDynamics(baseDir, runID string) ([]model.StepRecord, bool, error) {
	f, err := os.Open(filepath.Join(baseDir, runID, dynamicsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var records []model.StepRecord
	if err := gocsv.Unmarshal(f, &records); err != nil {
		return nil, false, fmt.Errorf("read dynamics of %s: %w", runID, err)
	}
	return records, true, nil
}

func ReadRunConfig(baseDir, runID string) (json.RawMessage, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !json.Valid(data) {
		return nil, false, fmt.Errorf("config of %s is not valid json", runID)
	}
	return json.RawMessage(data), true, nil
}

func ReadSummaries(baseDir, runID string) ([]model.EpochSummary, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, summariesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var summaries []model.EpochSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, false, err
	}
	return summaries, true, nil
}

// ReadRunResults decodes the results record into out, preferring the
// compressed file when both exist.
func ReadRunResults(baseDir, runID string, out any) (bool, error) {
	runDir := filepath.Join(baseDir, runID)
	if f, err := os.Open(filepath.Join(runDir, compressedResultsFile)); err == nil {
		defer f.Close()
		if err := json.NewDecoder(snappy.NewReader(f)).Decode(out); err != nil {
			return false, fmt.Errorf("read results of %s: %w", runID, err)
		}
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	data, err := os.ReadFile(filepath.Join(runDir, resultsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("read results of %s: %w", runID, err)
	}
	return true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory into outDir/<run_id>. The
// dynamics and summaries are required; the other files are copied when
// present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{dynamicsFile, summariesFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{configFile, stateFile, resultsFile, compressedResultsFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeCompressedJSON(path string, value any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := snappy.NewBufferedWriter(f)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
