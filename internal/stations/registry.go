// Package stations loads the monitoring network reference table.
package stations

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
)

//go:embed madrid_airquality_stations.csv
var defaultTable []byte

const (
	colLongitude = iota
	colLatitude
	colCode
	colName
	colAddress
	minColumns
)

// Registry maps zero-padded station point codes to stations. It is read-only
// once loaded.
type Registry struct {
	stations map[string]models.Station
}

// Load reads the reference table at path, or the embedded Madrid table when
// path is empty. Any malformed row fails the whole load.
func Load(path string, logger *zap.Logger) (*Registry, error) {
	source := "embedded:madrid_airquality_stations.csv"
	var r io.Reader = bytes.NewReader(defaultTable)

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open station table: %w", err)
		}
		defer f.Close()
		r = f
		source = path
	}

	reg, err := Parse(r, source)
	if err != nil {
		return nil, err
	}

	logger.Debug("Station registry loaded",
		zap.String("source", source),
		zap.Int("stations", reg.Len()))

	return reg, nil
}

// Parse reads a comma-delimited table with one header row. Columns are
// positional: longitude, latitude, station code, name, address.
func Parse(r io.Reader, source string) (*Registry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &models.DataFormatError{Source: source, Field: "header", Err: err}
		}
		return nil, &models.DataFormatError{Source: source, Line: 1, Field: "header", Err: err}
	}

	reg := &Registry{stations: make(map[string]models.Station)}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &models.DataFormatError{Source: source, Line: line, Field: "record", Err: err}
		}
		if len(record) < minColumns {
			return nil, &models.DataFormatError{
				Source: source,
				Line:   line,
				Field:  "record",
				Err:    fmt.Errorf("expected %d columns, got %d", minColumns, len(record)),
			}
		}

		lon, err := strconv.ParseFloat(strings.TrimSpace(record[colLongitude]), 64)
		if err != nil {
			return nil, &models.DataFormatError{Source: source, Line: line, Field: "longitude", Err: err}
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(record[colLatitude]), 64)
		if err != nil {
			return nil, &models.DataFormatError{Source: source, Line: line, Field: "latitude", Err: err}
		}
		code, err := PadCode(record[colCode])
		if err != nil {
			return nil, &models.DataFormatError{Source: source, Line: line, Field: "station code", Err: err}
		}

		reg.stations[code] = models.Station{
			Code:     code,
			Name:     strings.TrimSpace(record[colName]),
			Address:  strings.TrimSpace(record[colAddress]),
			Location: models.NewPoint(lon, lat),
		}
	}

	reg.stations[models.AverageStationCode] = models.Station{
		Code: models.AverageStationCode,
		Name: "average",
	}

	return reg, nil
}

// PadCode normalizes a numeric station code to three digits.
func PadCode(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("negative station code %d", n)
	}
	return fmt.Sprintf("%03d", n), nil
}

func (r *Registry) Lookup(code string) (models.Station, bool) {
	s, ok := r.stations[code]
	return s, ok
}

func (r *Registry) Len() int {
	return len(r.stations)
}

// All returns the stations ordered by code.
func (r *Registry) All() []models.Station {
	out := make([]models.Station, 0, len(r.stations))
	for _, s := range r.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// New builds a registry from an explicit station list.
func New(list []models.Station) *Registry {
	reg := &Registry{stations: make(map[string]models.Station, len(list))}
	for _, s := range list {
		reg.stations[s.Code] = s
	}
	return reg
}
