// Package simulate stands in for the field meter: it generates labelled
// sample data and streams readings in NORMAL or THEFT mode.
package simulate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// DatasetHeader is the column layout of a labelled dataset file.
var DatasetHeader = []string{"Voltage", "Current", "Power", "Power_Factor", "Label"}

// Sample is one labelled dataset row.
type Sample struct {
	Reading domain.Reading
	Label   int
}

// Dataset splits samples by label.
type Dataset struct {
	Normal []domain.Reading
	Theft  []domain.Reading
}

// Len returns the total number of samples.
func (d Dataset) Len() int { return len(d.Normal) + len(d.Theft) }

// GenerateDataset builds a deterministic labelled dataset covering the
// household load profiles and the theft patterns the detector must learn.
func GenerateDataset() []Sample {
	var out []Sample
	add := func(v, i, pf float64, label int) {
		out = append(out, Sample{
			Reading: domain.Reading{
				Voltage:     round(v, 1),
				Current:     round(i, 2),
				Power:       round(v*i*pf, 1),
				PowerFactor: round(pf, 2),
			},
			Label: label,
		})
	}

	// ~85 ordinary household readings: 225-235V, 0.5-12A, pf 0.85-0.99
	for n := 0; n < 85; n++ {
		v := 225 + float64((n*7)%11)
		i := 0.5 + float64((n*137)%1150)/100
		pf := 0.85 + float64((n*13)%15)/100
		add(v, i, pf, domain.LabelNormal)
	}

	// appliance start-up transients: brief high current with healthy voltage
	for n := 0; n < 7; n++ {
		add(228+float64(n), 13+float64(n)*0.25, 0.9, domain.LabelNormal)
	}

	// direct hook bypass: sustained high current
	for n := 0; n < 12; n++ {
		add(226+float64(n%6), 16+float64(n)*0.75, 0.88, domain.LabelTheft)
	}

	// bypass on a weak feeder: high current with sagging voltage
	for n := 0; n < 6; n++ {
		add(198+float64(n)*2, 18+float64(n), 0.82, domain.LabelTheft)
	}

	// meter tampering with reactive loads: low power factor
	for n := 0; n < 8; n++ {
		add(230, 6+float64(n)*0.5, 0.45+float64(n)*0.03, domain.LabelTheft)
	}

	// grid-side sags that are not theft
	for n := 0; n < 5; n++ {
		add(202+float64(n), 3+float64(n)*0.5, 0.95, domain.LabelNormal)
	}

	return out
}

// WriteDataset writes samples as CSV with a header row.
func WriteDataset(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DatasetHeader); err != nil {
		return err
	}
	for _, s := range samples {
		r := s.Reading
		if err := cw.Write([]string{
			ftoa(r.Voltage), ftoa(r.Current), ftoa(r.Power), ftoa(r.PowerFactor), strconv.Itoa(s.Label),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadDataset reads a labelled CSV dataset. Columns are matched by header
// name, case-insensitively, so extra columns are allowed.
func LoadDataset(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()
	return ReadDataset(f)
}

// ReadDataset parses a dataset from r.
func ReadDataset(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return Dataset{}, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make([]int, len(DatasetHeader))
	for i, name := range DatasetHeader {
		c, ok := cols[strings.ToLower(name)]
		if !ok {
			return Dataset{}, fmt.Errorf("missing column %q", name)
		}
		idx[i] = c
	}

	var ds Dataset
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [5]float64
		for i, c := range idx {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("line %d: %s: %w", line, DatasetHeader[i], err)
			}
			vals[i] = v
		}
		rd := domain.Reading{Voltage: vals[0], Current: vals[1], Power: vals[2], PowerFactor: vals[3]}
		switch int(vals[4]) {
		case domain.LabelNormal:
			ds.Normal = append(ds.Normal, rd)
		case domain.LabelTheft:
			ds.Theft = append(ds.Theft, rd)
		default:
			return Dataset{}, fmt.Errorf("line %d: label must be 0 or 1", line)
		}
	}
	if len(ds.Normal) == 0 || len(ds.Theft) == 0 {
		return Dataset{}, errors.New("dataset needs both normal and theft samples")
	}
	return ds, nil
}

// Split groups generated samples by label.
func Split(samples []Sample) Dataset {
	var ds Dataset
	for _, s := range samples {
		if s.Label == domain.LabelTheft {
			ds.Theft = append(ds.Theft, s.Reading)
		} else {
			ds.Normal = append(ds.Normal, s.Reading)
		}
	}
	return ds
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
