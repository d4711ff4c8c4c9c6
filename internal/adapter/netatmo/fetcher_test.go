package netatmo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/adapter/netatmo"
	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	observations []domain.Observation
}

func (s *fakeSink) InsertObservations(_ context.Context, obs []domain.Observation) error {
	s.observations = append(s.observations, obs...)
	return nil
}

func testSources(n int) []netatmo.Source {
	out := make([]netatmo.Source, n)
	for i := range out {
		id := "bz:" + strconv.Itoa(i)
		out[i] = netatmo.Source{
			Station:  domain.Station{ID: id, Latitude: 46.49, Longitude: 11.35, Altitude: 260},
			DeviceID: "70:ee:50:00:00:0" + strconv.Itoa(i),
			ModuleID: "02:00:00:00:00:0" + strconv.Itoa(i),
		}
	}
	return out
}

func measureBody(ts int64, temp float64) map[string]any {
	return map[string]any{
		"body": map[string][]float64{strconv.FormatInt(ts, 10): {temp}},
	}
}

func TestFetcher_RewritesStationIDs(t *testing.T) {
	from := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", tokenHandler(t, "access-1", ""))
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(measureBody(from.Unix(), 4.5))
	})

	client := newTestClient(t, mux, &netatmo.StaticTokenStore{RefreshToken: "r"})
	sink := &fakeSink{}
	f := netatmo.NewFetcher(client, sink, observability.NewMetricsForTesting(), testLogger())

	cp, err := f.Run(context.Background(), testSources(2), from, from.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.Len(t, sink.observations, 2)
	assert.Equal(t, "bz:0", sink.observations[0].StationID)
	assert.Equal(t, "bz:1", sink.observations[1].StationID)
}

func TestFetcher_ChunksLongWindows(t *testing.T) {
	from := time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add((netatmo.ChunkHours + 100) * time.Hour)

	var windows [][2]int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", tokenHandler(t, "access-1", ""))
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		begin, _ := strconv.ParseInt(q.Get("date_begin"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("date_end"), 10, 64)
		windows = append(windows, [2]int64{begin, end})
		json.NewEncoder(w).Encode(map[string]any{"body": map[string][]float64{}})
	})

	client := newTestClient(t, mux, &netatmo.StaticTokenStore{RefreshToken: "r"})
	f := netatmo.NewFetcher(client, &fakeSink{}, observability.NewMetricsForTesting(), testLogger())

	cp, err := f.Run(context.Background(), testSources(1), from, to, nil)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.Len(t, windows, 2)
	assert.Equal(t, from.Unix(), windows[0][0])
	assert.Equal(t, from.Add(netatmo.ChunkHours*time.Hour).Unix(), windows[0][1])
	assert.Equal(t, to.Unix(), windows[1][1])
	assert.LessOrEqual(t, windows[1][0]-windows[0][1], int64(3600), "chunks must not leave gaps")
}

func TestFetcher_CheckpointsOnRateLimit(t *testing.T) {
	from := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", tokenHandler(t, "access-1", ""))
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(measureBody(from.Unix(), 4.5))
	})

	client := newTestClient(t, mux, &netatmo.StaticTokenStore{RefreshToken: "r"})
	sink := &fakeSink{}
	f := netatmo.NewFetcher(client, sink, observability.NewMetricsForTesting(), testLogger())

	cp, err := f.Run(context.Background(), testSources(3), from, from.Add(time.Hour), nil)
	require.NoError(t, err, "budget exhaustion is a pause, not a failure")
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.NextStation)
	assert.False(t, cp.ResumeAfter.IsZero())

	// The first station's data made it in before the cut.
	require.Len(t, sink.observations, 1)
	assert.Equal(t, "bz:0", sink.observations[0].StationID)
}

func TestFetcher_ResumeWindowOnlyForCheckpointedStation(t *testing.T) {
	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	resume := from.Add(24 * time.Hour)

	// Only the station the checkpoint names was partially fetched; the
	// ones after it must still get the full window.
	begins := map[string]int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", tokenHandler(t, "access-1", ""))
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		begin, _ := strconv.ParseInt(q.Get("date_begin"), 10, 64)
		device := q.Get("device_id")
		if _, seen := begins[device]; !seen {
			begins[device] = begin
		}
		json.NewEncoder(w).Encode(map[string]any{"body": map[string][]float64{}})
	})

	client := newTestClient(t, mux, &netatmo.StaticTokenStore{RefreshToken: "r"})
	f := netatmo.NewFetcher(client, &fakeSink{}, observability.NewMetricsForTesting(), testLogger())

	sources := testSources(2)
	cp, err := f.Run(context.Background(), sources, from, to, &netatmo.Checkpoint{
		NextStation: 0,
		ResumeFrom:  resume,
	})
	require.NoError(t, err)
	assert.Nil(t, cp)

	assert.Equal(t, resume.Unix(), begins[sources[0].DeviceID], "checkpointed station resumes mid-window")
	assert.Equal(t, from.Unix(), begins[sources[1].DeviceID], "later stations start from the full window")
}

func TestFetcher_SkipsSourcesWithoutModule(t *testing.T) {
	from := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", tokenHandler(t, "access-1", ""))
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(measureBody(from.Unix(), 4.5))
	})

	client := newTestClient(t, mux, &netatmo.StaticTokenStore{RefreshToken: "r"})
	sink := &fakeSink{}
	f := netatmo.NewFetcher(client, sink, observability.NewMetricsForTesting(), testLogger())

	sources := testSources(2)
	sources[0].ModuleID = ""
	cp, err := f.Run(context.Background(), sources, from, from.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.Len(t, sink.observations, 1)
	assert.Equal(t, "bz:1", sink.observations[0].StationID)
}
