package models

import (
	"encoding/json"
	"strconv"
	"time"
)

const (
	EntityType     = "AirQualityObserved"
	EntityIDPrefix = "Madrid-AirQualityObserved-"
	LatestSuffix   = "latest"

	AddressCountry  = "ES"
	AddressLocality = "Madrid"
	DataSource      = "http://datos.madrid.es"
	DataProvider    = "TEF"

	// AverageStationCode is the city-wide average pseudo station.
	AverageStationCode = "099"

	// isoLocal renders civil time with its offset, e.g. 2024-01-15T10:00:00+01:00.
	isoLocal = "2006-01-02T15:04:05-07:00"
	// isoNaive renders civil time without offset, used for entity ids.
	isoNaive = "2006-01-02T15:04:05"
)

// MadridZone is the civil zone attached to every observation interval.
// The offset is fixed: boundaries are computed on naive wall-clock time and the
// zone is attached afterwards, never reinterpreted through UTC.
var MadridZone = time.FixedZone("CET", 3600)

type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func NewPoint(lon, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: [2]float64{lon, lat}}
}

// Station is one entry of the monitoring network reference table.
type Station struct {
	Code     string
	Name     string
	Address  string
	Location *GeoPoint
}

type PostalAddress struct {
	Country       string `json:"addressCountry"`
	Locality      string `json:"addressLocality"`
	StreetAddress string `json:"streetAddress,omitempty"`
}

type Interval struct {
	From time.Time
	To   time.Time
}

// Entity is one station-hour AirQualityObserved record.
type Entity struct {
	ID          string
	StationCode string
	StationName string
	Address     PostalAddress
	Location    *GeoPoint
	Validity    Interval
	Hour        int
	Measurand   []string
	// Readings holds the scalar attributes set by non-pollutant magnitudes.
	Readings map[string]float64
}

func (e *Entity) DateObserved() time.Time {
	return e.Validity.From
}

func (e *Entity) HourLabel() string {
	return hourLabel(e.Hour)
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Location != nil {
		loc := *e.Location
		c.Location = &loc
	}
	c.Measurand = make([]string, len(e.Measurand))
	copy(c.Measurand, e.Measurand)
	c.Readings = make(map[string]float64, len(e.Readings))
	for k, v := range e.Readings {
		c.Readings[k] = v
	}
	return &c
}

type attribute struct {
	Type  string      `json:"type,omitempty"`
	Value interface{} `json:"value"`
}

// MarshalJSON renders the entity in NGSIv2 normalized form.
func (e *Entity) MarshalJSON() ([]byte, error) {
	measurand := e.Measurand
	if measurand == nil {
		measurand = []string{}
	}

	var location interface{}
	if e.Location != nil {
		location = e.Location
	}

	doc := map[string]interface{}{
		"id":           e.ID,
		"type":         EntityType,
		"measurand":    attribute{Type: "List", Value: measurand},
		"stationCode":  attribute{Value: e.StationCode},
		"stationName":  attribute{Value: e.StationName},
		"address":      attribute{Type: "PostalAddress", Value: e.Address},
		"location":     attribute{Type: "geo:json", Value: location},
		"source":       attribute{Type: "URL", Value: DataSource},
		"dataProvider": attribute{Value: DataProvider},
		"validity": attribute{
			Type: "StructuredValue",
			Value: map[string]string{
				"from": e.Validity.From.Format(isoLocal),
				"to":   e.Validity.To.Format(isoLocal),
			},
		},
		"hour":         attribute{Value: e.HourLabel()},
		"dateObserved": attribute{Type: "DateTime", Value: e.DateObserved().Format(isoLocal)},
	}

	for name, value := range e.Readings {
		doc[name] = attribute{Value: value}
	}

	return json.Marshal(doc)
}

// EntityID builds the deterministic id for a station-hour.
func EntityID(stationCode string, hourStart time.Time) string {
	return EntityIDPrefix + stationCode + "-" + hourStart.Format(isoNaive)
}

// LatestEntityID builds the stable id of the station's latest observation.
func LatestEntityID(stationCode string) string {
	return EntityIDPrefix + stationCode + "-" + LatestSuffix
}

func FormatTime(t time.Time) string {
	return t.Format(isoLocal)
}

func hourLabel(hour int) string {
	return strconv.Itoa(hour) + ":00"
}

// HoursPerDay is the number of hourly slots carried by one feed row.
const HoursPerDay = 24

// HourlySeries holds one slot per hour of the day; a nil slot is an hour with no
// valid reading.
type HourlySeries [HoursPerDay]*Entity

// Observed returns the non-empty slots in hour order.
func (s *HourlySeries) Observed() []*Entity {
	out := make([]*Entity, 0, HoursPerDay)
	for _, e := range s {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Batch is the result of building one feed payload: hourly series per station
// key, in the order stations first appeared in the feed.
type Batch struct {
	Order  []string
	Series map[string]*HourlySeries
}

func NewBatch() *Batch {
	return &Batch{Series: make(map[string]*HourlySeries)}
}

// Ensure returns the series for a station key, creating it if needed.
func (b *Batch) Ensure(stationKey string) *HourlySeries {
	s, ok := b.Series[stationKey]
	if !ok {
		s = &HourlySeries{}
		b.Series[stationKey] = s
		b.Order = append(b.Order, stationKey)
	}
	return s
}
