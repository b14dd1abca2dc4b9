package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleEntity() *Entity {
	from := time.Date(2024, time.January, 15, 13, 0, 0, 0, MadridZone)
	return &Entity{
		ID:          EntityID("28079004", from),
		StationCode: "28079004",
		StationName: "Plaza de Espana",
		Address: PostalAddress{
			Country:       AddressCountry,
			Locality:      AddressLocality,
			StreetAddress: "Plaza de Espana",
		},
		Location:  NewPoint(-3.7122567, 40.4238823),
		Validity:  Interval{From: from, To: from.Add(time.Hour)},
		Hour:      13,
		Measurand: []string{"NO2,31.0,GQ,Nitrogen Dioxide"},
		Readings:  map[string]float64{"relativeHumidity": 0.6},
	}
}

func decode(t *testing.T, e *Entity) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return doc
}

func TestEntityMarshalJSON(t *testing.T) {
	doc := decode(t, sampleEntity())

	want := map[string]interface{}{
		"id":   "Madrid-AirQualityObserved-28079004-2024-01-15T13:00:00",
		"type": "AirQualityObserved",
		"measurand": map[string]interface{}{
			"type":  "List",
			"value": []interface{}{"NO2,31.0,GQ,Nitrogen Dioxide"},
		},
		"stationCode": map[string]interface{}{"value": "28079004"},
		"stationName": map[string]interface{}{"value": "Plaza de Espana"},
		"address": map[string]interface{}{
			"type": "PostalAddress",
			"value": map[string]interface{}{
				"addressCountry":  "ES",
				"addressLocality": "Madrid",
				"streetAddress":   "Plaza de Espana",
			},
		},
		"location": map[string]interface{}{
			"type": "geo:json",
			"value": map[string]interface{}{
				"type":        "Point",
				"coordinates": []interface{}{-3.7122567, 40.4238823},
			},
		},
		"source":       map[string]interface{}{"type": "URL", "value": "http://datos.madrid.es"},
		"dataProvider": map[string]interface{}{"value": "TEF"},
		"validity": map[string]interface{}{
			"type": "StructuredValue",
			"value": map[string]interface{}{
				"from": "2024-01-15T13:00:00+01:00",
				"to":   "2024-01-15T14:00:00+01:00",
			},
		},
		"hour":             map[string]interface{}{"value": "13:00"},
		"dateObserved":     map[string]interface{}{"type": "DateTime", "value": "2024-01-15T13:00:00+01:00"},
		"relativeHumidity": map[string]interface{}{"value": 0.6},
	}

	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestEntityMarshalJSONAverageStation(t *testing.T) {
	e := sampleEntity()
	e.Location = nil
	e.Address.StreetAddress = ""
	e.Measurand = nil
	e.Readings = nil

	doc := decode(t, e)

	location := doc["location"].(map[string]interface{})
	if v, ok := location["value"]; !ok || v != nil {
		t.Errorf("location value = %v, want null", v)
	}
	address := doc["address"].(map[string]interface{})["value"].(map[string]interface{})
	if _, ok := address["streetAddress"]; ok {
		t.Error("streetAddress present for a station without address")
	}
	measurand := doc["measurand"].(map[string]interface{})["value"].([]interface{})
	if len(measurand) != 0 {
		t.Errorf("measurand = %v, want empty list", measurand)
	}
	if _, ok := doc["relativeHumidity"]; ok {
		t.Error("reading attribute emitted without a reading")
	}
}

func TestEntityIDs(t *testing.T) {
	from := time.Date(2024, time.July, 1, 0, 0, 0, 0, MadridZone)

	if got := EntityID("28079099", from); got != "Madrid-AirQualityObserved-28079099-2024-07-01T00:00:00" {
		t.Errorf("EntityID() = %q", got)
	}
	if got := LatestEntityID("28079099"); got != "Madrid-AirQualityObserved-28079099-latest" {
		t.Errorf("LatestEntityID() = %q", got)
	}
	if got := FormatTime(from); got != "2024-07-01T00:00:00+01:00" {
		t.Errorf("FormatTime() = %q", got)
	}
}

func TestEntityClone(t *testing.T) {
	e := sampleEntity()
	c := e.Clone()

	if diff := cmp.Diff(e, c); diff != "" {
		t.Fatalf("Clone() mismatch (-want +got):\n%s", diff)
	}

	c.Measurand[0] = "x"
	c.Readings["relativeHumidity"] = 1
	c.Location.Coordinates[1] = 0
	if e.Measurand[0] == "x" || e.Readings["relativeHumidity"] != 0.6 || e.Location.Coordinates[1] == 0 {
		t.Error("Clone() shares state with the original")
	}

	e.Location = nil
	if e.Clone().Location != nil {
		t.Error("Clone() invented a location")
	}
}

func TestHourlySeriesAndBatch(t *testing.T) {
	b := NewBatch()
	s := b.Ensure("28079008")
	b.Ensure("28079004")
	if b.Ensure("28079008") != s {
		t.Error("Ensure() replaced an existing series")
	}
	if diff := cmp.Diff([]string{"28079008", "28079004"}, b.Order); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}

	first := sampleEntity()
	last := sampleEntity()
	s[20] = last
	s[2] = first

	got := s.Observed()
	if len(got) != 2 || got[0] != first || got[1] != last {
		t.Errorf("Observed() = %v, want slots 2 and 20 in order", got)
	}
	if len(b.Series["28079004"].Observed()) != 0 {
		t.Error("empty series reported observations")
	}
}

func TestMagnitudes(t *testing.T) {
	tests := []struct {
		code   string
		kind   MagnitudeKind
		name   string
		unit   string
		raw    float64
		scaled float64
	}{
		{"01", MagnitudePollutant, "SO2", "GQ", 12, 12},
		{"06", MagnitudePollutant, "CO", "GP", 0.4, 0.4},
		{"14", MagnitudePollutant, "O3", "GQ", 45, 45},
		{"83", MagnitudeOther, "temperature", "GQ", 21.5, 21.5},
		{"86", MagnitudeOther, "relativeHumidity", "GQ", 55, 0.55},
		{"55", MagnitudeUnknown, "", "GQ", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			m := Magnitudes.Lookup(tt.code)
			if m.Kind != tt.kind || m.Name != tt.name {
				t.Errorf("Lookup(%q) = %+v", tt.code, m)
			}
			if tt.kind == MagnitudePollutant && m.UnitCode() != tt.unit {
				t.Errorf("UnitCode() = %q, want %q", m.UnitCode(), tt.unit)
			}
			if got := m.Normalize(tt.raw); got != tt.scaled {
				t.Errorf("Normalize(%v) = %v, want %v", tt.raw, got, tt.scaled)
			}
		})
	}

	if Magnitudes.Len() != 26 {
		t.Errorf("Len() = %d, want 26", Magnitudes.Len())
	}
}

func TestPublishResultErr(t *testing.T) {
	ok := PublishResult{Station: "28079004", Outcome: OutcomeSuccess}
	if ok.Err() != nil {
		t.Errorf("Err() = %v for success", ok.Err())
	}

	empty := PublishResult{Station: "28079099", Outcome: OutcomeNoData}
	if empty.OK() {
		t.Error("OK() = true for a station with no data")
	}
	if err := empty.Err(); err != nil {
		t.Errorf("Err() = %v for a station with no data, want nil", err)
	}

	cause := errors.New("connection refused")
	failed := PublishResult{Station: "28079004", Outcome: OutcomeConnectionFailure, Reason: "connection_error", Cause: cause}
	var pubErr *PublishError
	if !errors.As(failed.Err(), &pubErr) || pubErr.Station != "28079004" {
		t.Fatalf("Err() = %v, want PublishError", failed.Err())
	}
	if !errors.Is(failed.Err(), cause) {
		t.Error("PublishError does not unwrap to its cause")
	}

	status := PublishResult{Station: "28079008", Outcome: OutcomeStatusFailure, StatusCode: 422, Reason: "Unprocessable Entity"}
	if got := status.Err().Error(); got != "publish 28079008: 422 Unprocessable Entity" {
		t.Errorf("Error() = %q", got)
	}
	if OutcomeStatusFailure.String() != "http_error" || OutcomeNoData.String() != "no_data" {
		t.Error("unexpected outcome labels")
	}
}
