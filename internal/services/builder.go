package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
	"github.com/bobby-s-dev/airquality-harvester/internal/stations"
)

// Feed row layout: province, municipality, station, magnitude, technique,
// analysis period, year, month, day, then 24 (value, flag) pairs.
const (
	colProvince = iota
	colMunicipality
	colStation
	colMagnitude
	colTechnique
	colPeriod
	colYear
	colMonth
	colDay
	colFirstValue

	hourStride = 2
	rowWidth   = colFirstValue + models.HoursPerDay*hourStride

	validFlag  = "V"
	feedSource = "feed"
)

// BuildStats counts what happened to the rows of one payload.
type BuildStats struct {
	Rows               int `json:"rows"`
	UnknownStation     int `json:"unknown_station"`
	UnknownMagnitude   int `json:"unknown_magnitude"`
	Malformed          int `json:"malformed"`
	InvalidValues      int `json:"invalid_values"`
	Entities           int `json:"entities"`
	StationsWithSeries int `json:"stations"`
}

// Builder turns the wide daily feed into hourly entities.
type Builder struct {
	registry   *stations.Registry
	magnitudes *models.MagnitudeTable
	delimiter  rune
	logger     *zap.Logger
}

func NewBuilder(registry *stations.Registry, magnitudes *models.MagnitudeTable, delimiter rune, logger *zap.Logger) *Builder {
	if delimiter == 0 {
		delimiter = ','
	}
	return &Builder{
		registry:   registry,
		magnitudes: magnitudes,
		delimiter:  delimiter,
		logger:     logger,
	}
}

// Build parses a whole payload. Rows for unknown stations or magnitudes are
// dropped silently; malformed rows are skipped and counted.
func (b *Builder) Build(raw []byte) (*models.Batch, BuildStats) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = b.delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	batch := models.NewBatch()
	var stats BuildStats

	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		stats.Rows++

		if err != nil {
			stats.Malformed++
			b.logger.Debug("Skipping unreadable row", zap.Int("line", line), zap.Error(err))
			continue
		}

		if err := b.buildRow(batch, record, line, &stats); err != nil {
			stats.Malformed++
			b.logger.Debug("Skipping malformed row", zap.Int("line", line), zap.Error(err))
		}
	}

	for _, series := range batch.Series {
		for _, e := range series {
			if e != nil {
				stats.Entities++
			}
		}
	}
	stats.StationsWithSeries = len(batch.Order)

	return batch, stats
}

// RowDate is the civil date a feed row reports on.
type RowDate struct {
	Year  int
	Month time.Month
	Day   int
}

func (b *Builder) buildRow(batch *models.Batch, record []string, line int, stats *BuildStats) error {
	if len(record) < rowWidth {
		return &models.DataFormatError{
			Source: feedSource,
			Line:   line,
			Field:  "row",
			Err:    fmt.Errorf("expected %d columns, got %d", rowWidth, len(record)),
		}
	}

	pointCode, err := stations.PadCode(record[colStation])
	if err != nil {
		stats.UnknownStation++
		return nil
	}
	station, ok := b.registry.Lookup(pointCode)
	if !ok {
		stats.UnknownStation++
		return nil
	}

	date, err := parseDate(record, line)
	if err != nil {
		return err
	}

	stationKey := strings.TrimSpace(record[colProvince]) +
		strings.TrimSpace(record[colMunicipality]) +
		strings.TrimSpace(record[colStation])
	series := batch.Ensure(stationKey)

	magnitude := b.magnitudes.Lookup(normalizeMagnitudeCode(record[colMagnitude]))
	if magnitude.Kind == models.MagnitudeUnknown {
		stats.UnknownMagnitude++
		return nil
	}

	for hour := 0; hour < models.HoursPerDay; hour++ {
		col := colFirstValue + hour*hourStride
		if strings.TrimSpace(record[col+1]) != validFlag {
			// Slot stays as it is: empty, or built by an earlier magnitude.
			continue
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			stats.InvalidValues++
			continue
		}

		entity := series[hour]
		if entity == nil {
			entity = NewEntity(station, stationKey, hour, date)
			series[hour] = entity
		}
		applyReading(entity, magnitude, value)
	}

	return nil
}

func parseDate(record []string, line int) (RowDate, error) {
	fields := [...]struct {
		name string
		col  int
	}{{"year", colYear}, {"month", colMonth}, {"day", colDay}}

	var parts [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(record[f.col]))
		if err != nil {
			return RowDate{}, &models.DataFormatError{Source: feedSource, Line: line, Field: f.name, Err: err}
		}
		parts[i] = n
	}

	d := RowDate{Year: parts[0], Month: time.Month(parts[1]), Day: parts[2]}
	check := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	if check.Year() != d.Year || check.Month() != d.Month || check.Day() != d.Day {
		return RowDate{}, &models.DataFormatError{
			Source: feedSource,
			Line:   line,
			Field:  "date",
			Err:    fmt.Errorf("%04d-%02d-%02d is not a calendar date", parts[0], parts[1], parts[2]),
		}
	}

	return d, nil
}

func normalizeMagnitudeCode(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) == 1 {
		return "0" + raw
	}
	return raw
}

func applyReading(entity *models.Entity, magnitude models.Magnitude, value float64) {
	switch magnitude.Kind {
	case models.MagnitudePollutant:
		entity.Measurand = append(entity.Measurand, strings.Join([]string{
			magnitude.Name,
			formatReading(value),
			magnitude.UnitCode(),
			magnitude.Description,
		}, ","))
	case models.MagnitudeOther:
		entity.Readings[magnitude.Name] = magnitude.Normalize(value)
	}
}

// formatReading renders a reading the way the published dataset always has:
// shortest representation, with a trailing ".0" for integral values.
func formatReading(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// NewEntity builds the skeleton of a station-hour entity. The interval is
// computed on the row's civil date and then placed in the Madrid zone.
func NewEntity(station models.Station, stationKey string, hour int, date RowDate) *models.Entity {
	from := time.Date(date.Year, date.Month, date.Day, hour, 0, 0, 0, models.MadridZone)

	return &models.Entity{
		ID:          models.EntityID(stationKey, from),
		StationCode: stationKey,
		StationName: Sanitize(station.Name),
		Address: models.PostalAddress{
			Country:       models.AddressCountry,
			Locality:      models.AddressLocality,
			StreetAddress: Sanitize(station.Address),
		},
		Location:  station.Location,
		Validity:  models.Interval{From: from, To: from.Add(time.Hour)},
		Hour:      hour,
		Measurand: []string{},
		Readings:  make(map[string]float64),
	}
}

// Sanitize strips characters the context broker rejects in attribute values.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '(', ')', '"', '\'', '=', ';':
			return -1
		}
		return r
	}, s)
}
