package stats

import (
	"fmt"

	mstats "github.com/montanaflynn/stats"

	"cgae/internal/model"
)

// SummarizeLosses reduces an epoch's step losses to mean, median, standard
// deviation and range.
func SummarizeLosses(losses []float64) (model.LossStats, error) {
	if len(losses) == 0 {
		return model.LossStats{}, fmt.Errorf("no losses to summarize")
	}
	data := mstats.Float64Data(losses)
	mean, err := data.Mean()
	if err != nil {
		return model.LossStats{}, err
	}
	median, err := data.Median()
	if err != nil {
		return model.LossStats{}, err
	}
	stddev, err := data.StandardDeviation()
	if err != nil {
		return model.LossStats{}, err
	}
	lo, err := data.Min()
	if err != nil {
		return model.LossStats{}, err
	}
	hi, err := data.Max()
	if err != nil {
		return model.LossStats{}, err
	}
	return model.LossStats{
		Mean:   model.Float(mean),
		Median: model.Float(median),
		StdDev: model.Float(stddev),
		Min:    model.Float(lo),
		Max:    model.Float(hi),
	}, nil
}
