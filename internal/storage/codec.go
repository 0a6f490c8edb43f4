package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"cgae/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp sets the current schema and codec versions.
func Stamp(v *model.VersionedRecord) {
	v.SchemaVersion = CurrentSchemaVersion
	v.CodecVersion = CurrentCodecVersion
}

// Codec turns records into store payloads. Compressed payloads are
// snappy-encoded JSON.
type Codec struct {
	Compress bool
}

func (c Codec) EncodeRun(r model.RunRecord) ([]byte, error) {
	return c.encode(r)
}

func (c Codec) DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := c.decode(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func (c Codec) EncodeEpochSummary(s model.EpochSummary) ([]byte, error) {
	return c.encode(s)
}

func (c Codec) DecodeEpochSummary(data []byte) (model.EpochSummary, error) {
	var summary model.EpochSummary
	if err := c.decode(data, &summary); err != nil {
		return model.EpochSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.EpochSummary{}, err
	}
	return summary, nil
}

func (c Codec) encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.Compress {
		return snappy.Encode(nil, data), nil
	}
	return data, nil
}

func (c Codec) decode(data []byte, v any) error {
	if c.Compress {
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
		data = raw
	}
	return json.Unmarshal(data, v)
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
