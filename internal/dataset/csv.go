package dataset

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
)

// atomRow is one line of the long-format CSV layout: one atom of one sample.
type atomRow struct {
	Sample  int     `csv:"sample"`
	Atom    int     `csv:"atom"`
	Species string  `csv:"species"`
	X       float64 `csv:"x"`
	Y       float64 `csv:"y"`
	Z       float64 `csv:"z"`
	FX      float64 `csv:"fx"`
	FY      float64 `csv:"fy"`
	FZ      float64 `csv:"fz"`
}

func LoadCSVFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV decodes sample,atom,species,x,y,z,fx,fy,fz rows. Species become a
// one-hot feature encoding in sorted order; every (sample, atom) pair must
// appear exactly once and an atom keeps its species across samples.
func ReadCSV(r io.Reader) (*Dataset, error) {
	var rows []*atomRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decode dataset csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShapeMismatch)
	}

	samples, atoms := 0, 0
	speciesSet := map[string]struct{}{}
	for _, row := range rows {
		if row.Sample < 0 || row.Atom < 0 {
			return nil, fmt.Errorf("%w: negative index sample=%d atom=%d", ErrShapeMismatch, row.Sample, row.Atom)
		}
		samples = max(samples, row.Sample+1)
		atoms = max(atoms, row.Atom+1)
		speciesSet[row.Species] = struct{}{}
	}
	if len(rows) != samples*atoms {
		return nil, fmt.Errorf("%w: %d rows for %d samples of %d atoms", ErrShapeMismatch, len(rows), samples, atoms)
	}
	species := make([]string, 0, len(speciesSet))
	for s := range speciesSet {
		species = append(species, s)
	}
	sort.Strings(species)
	channel := make(map[string]int, len(species))
	for i, s := range species {
		channel[s] = i
	}

	ds := &Dataset{
		Samples:    samples,
		Atoms:      atoms,
		Channels:   len(species),
		Geometries: make([]float64, samples*atoms*3),
		Forces:     make([]float64, samples*atoms*3),
		Features:   make([]float64, samples*atoms*len(species)),
		Species:    species,
	}
	seen := make([]bool, samples*atoms)
	atomSpecies := make([]string, atoms)
	for _, row := range rows {
		idx := row.Sample*atoms + row.Atom
		if seen[idx] {
			return nil, fmt.Errorf("%w: duplicate row sample=%d atom=%d", ErrShapeMismatch, row.Sample, row.Atom)
		}
		seen[idx] = true
		if prev := atomSpecies[row.Atom]; prev == "" {
			atomSpecies[row.Atom] = row.Species
		} else if prev != row.Species {
			return nil, fmt.Errorf("%w: atom %d is %s in one sample and %s in another", ErrShapeMismatch, row.Atom, prev, row.Species)
		}
		copy(ds.Geometries[idx*3:], []float64{row.X, row.Y, row.Z})
		copy(ds.Forces[idx*3:], []float64{row.FX, row.FY, row.FZ})
		ds.Features[idx*ds.Channels+channel[row.Species]] = 1
	}
	return ds, nil
}

func SaveCSVFile(path string, ds *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, ds); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV encodes the dataset in the long format. The features must be a
// one-hot encoding named by Species.
func WriteCSV(w io.Writer, ds *Dataset) error {
	if len(ds.Species) != ds.Channels {
		return fmt.Errorf("%w: csv output needs one species name per channel", ErrShapeMismatch)
	}
	rows := make([]*atomRow, 0, ds.Samples*ds.Atoms)
	for s := 0; s < ds.Samples; s++ {
		for a := 0; a < ds.Atoms; a++ {
			idx := s*ds.Atoms + a
			feat := ds.Features[idx*ds.Channels : (idx+1)*ds.Channels]
			hot := -1
			for c, v := range feat {
				if v == 1 && hot < 0 {
					hot = c
				} else if v != 0 {
					hot = -2
					break
				}
			}
			if hot < 0 {
				return fmt.Errorf("%w: sample %d atom %d features are not one-hot", ErrShapeMismatch, s, a)
			}
			g, f := ds.Geometries[idx*3:], ds.Forces[idx*3:]
			rows = append(rows, &atomRow{
				Sample: s, Atom: a, Species: ds.Species[hot],
				X: g[0], Y: g[1], Z: g[2],
				FX: f[0], FY: f[1], FZ: f[2],
			})
		}
	}
	return gocsv.Marshal(&rows, w)
}
