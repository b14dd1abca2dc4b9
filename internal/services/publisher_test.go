package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
	"github.com/bobby-s-dev/airquality-harvester/pkg/metrics"
)

type batchCall struct {
	station string
	ids     []string
}

// fakeBroker records batch calls and answers from a per-station script.
type fakeBroker struct {
	calls    []batchCall
	outcomes map[string]models.PublishResult
}

func (f *fakeBroker) BatchUpdate(_ context.Context, station string, entities []*models.Entity) models.PublishResult {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	f.calls = append(f.calls, batchCall{station: station, ids: ids})

	if r, ok := f.outcomes[station]; ok {
		r.Station = station
		r.Entities = len(entities)
		return r
	}
	return models.PublishResult{Station: station, Outcome: models.OutcomeSuccess, Entities: len(entities), StatusCode: http.StatusNoContent}
}

func (f *fakeBroker) Endpoint() string { return "http://orion.test" }

func hourlyEntities(t *testing.T, stationKey string, hours ...int) []*models.Entity {
	t.Helper()
	station, _ := testRegistry().Lookup(stationKey[len(stationKey)-3:])
	out := make([]*models.Entity, 0, len(hours))
	for _, h := range hours {
		e := NewEntity(station, stationKey, h, RowDate{Year: 2024, Month: time.January, Day: 15})
		e.Measurand = append(e.Measurand, "NO2,31.0,GQ,Nitrogen Dioxide")
		out = append(out, e)
	}
	return out
}

func TestLatest(t *testing.T) {
	entities := hourlyEntities(t, "28079004", 0, 1, 5)
	entities[2].Readings["relativeHumidity"] = 0.55

	latest, ok := Latest(entities)
	if !ok {
		t.Fatal("Latest() reported no data")
	}

	if latest.ID != "Madrid-AirQualityObserved-28079004-latest" {
		t.Errorf("ID = %q", latest.ID)
	}

	// Every field but the id matches the last hourly entity.
	want := entities[2].Clone()
	want.ID = latest.ID
	if diff := cmp.Diff(want, latest); diff != "" {
		t.Errorf("latest mismatch (-want +got):\n%s", diff)
	}

	// Deep copy: mutating the duplicate leaves the source untouched.
	latest.Measurand[0] = "changed"
	latest.Readings["relativeHumidity"] = 1
	latest.Location.Coordinates[0] = 0
	if entities[2].Measurand[0] == "changed" || entities[2].Readings["relativeHumidity"] != 0.55 {
		t.Error("Latest() shares state with the source entity")
	}
	if entities[2].Location.Coordinates[0] == 0 {
		t.Error("Latest() shares the location with the source entity")
	}
	if entities[2].ID == latest.ID {
		t.Error("source entity id was rewritten")
	}
}

func TestLatestEmpty(t *testing.T) {
	if e, ok := Latest(nil); ok || e != nil {
		t.Errorf("Latest(nil) = %v, %v; want nil, false", e, ok)
	}
}

func TestPublishAll(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, zap.NewNop(), nil)

	entities := hourlyEntities(t, "28079004", 0, 1)
	result := p.Publish(context.Background(), "28079004", entities, false)
	if !result.OK() {
		t.Fatalf("Publish() = %+v", result)
	}

	want := []batchCall{{
		station: "28079004",
		ids: []string{
			"Madrid-AirQualityObserved-28079004-2024-01-15T00:00:00",
			"Madrid-AirQualityObserved-28079004-2024-01-15T01:00:00",
		},
	}}
	if diff := cmp.Diff(want, broker.calls, cmp.AllowUnexported(batchCall{})); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(PublishCounts{Persisted: 1}, p.Counts()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishOnlyLatest(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, zap.NewNop(), nil)

	entities := hourlyEntities(t, "28079004", 0, 1)
	p.Publish(context.Background(), "28079004", entities, true)

	if len(broker.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(broker.calls))
	}
	if diff := cmp.Diff([]string{"Madrid-AirQualityObserved-28079004-latest"}, broker.calls[0].ids); diff != "" {
		t.Errorf("payload ids mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishNoData(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, zap.NewNop(), nil)

	for _, onlyLatest := range []bool{false, true} {
		result := p.Publish(context.Background(), "28079004", nil, onlyLatest)
		if result.Outcome != models.OutcomeNoData {
			t.Errorf("onlyLatest=%v: Outcome = %v, want no_data", onlyLatest, result.Outcome)
		}
	}
	if len(broker.calls) != 0 {
		t.Errorf("broker called %d times for empty station", len(broker.calls))
	}
	if diff := cmp.Diff(PublishCounts{}, p.Counts()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishFailuresAreIsolated(t *testing.T) {
	broker := &fakeBroker{outcomes: map[string]models.PublishResult{
		"28079004": {Outcome: models.OutcomeStatusFailure, StatusCode: 400, Reason: "Bad Request", Detail: `{"error":"BadRequest"}`},
		"28079008": {Outcome: models.OutcomeConnectionFailure, Reason: "connection_error", Cause: errors.New("connection refused")},
		"28079011": {Outcome: models.OutcomeTimeout, Reason: "timeout", Cause: errors.New("deadline exceeded")},
		"28079016": {Outcome: models.OutcomeTransportFailure, Reason: "transport_error", Cause: errors.New("tls: bad certificate")},
	}}

	core, logs := observer.New(zapcore.DebugLevel)
	collector := metrics.NewCollector("test")
	p := NewPublisher(broker, zap.New(core), collector)

	stationsInOrder := []string{"28079004", "28079008", "28079011", "28079016", "28079017"}
	for _, s := range stationsInOrder {
		p.Publish(context.Background(), s, hourlyEntities(t, "28079004", 0), false)
	}

	if len(broker.calls) != len(stationsInOrder) {
		t.Errorf("calls = %d, want %d", len(broker.calls), len(stationsInOrder))
	}
	if diff := cmp.Diff(PublishCounts{Persisted: 1, InError: 4}, p.Counts()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	if len(errorLogs) != 4 {
		t.Fatalf("error logs = %d, want 4", len(errorLogs))
	}
	first := errorLogs[0].ContextMap()
	if first["status"] != int64(400) || first["reason"] != "Bad Request" {
		t.Errorf("status failure log fields = %v", first)
	}

	if got := testutil.ToFloat64(collector.BatchesTotal.WithLabelValues("http_error")); got != 1 {
		t.Errorf("http_error batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.EntitiesPublished); got != 1 {
		t.Errorf("entities published = %v, want 1", got)
	}

	p.Reset()
	if diff := cmp.Diff(PublishCounts{}, p.Counts()); diff != "" {
		t.Errorf("Reset() left counts (-want +got):\n%s", diff)
	}
}
