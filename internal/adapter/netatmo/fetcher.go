package netatmo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/observability"
)

// ChunkHours is the maximum number of hourly measurements the API returns
// per getmeasure call.
const ChunkHours = 1024

// RequestsPerHour is the API's documented application budget.
const RequestsPerHour = 500

// Source pairs a network station with the Netatmo identifiers needed to
// query it. Stations without an outdoor module cannot be fetched.
type Source struct {
	Station  domain.Station `json:"station"`
	DeviceID string         `json:"device_id"`
	ModuleID string         `json:"module_id"`
}

// ObservationSink receives fetched readings; the SQLite store implements it.
type ObservationSink interface {
	InsertObservations(ctx context.Context, obs []domain.Observation) error
}

// Checkpoint records where a fetch stopped when the request budget ran out,
// so the next invocation can resume instead of starting over.
type Checkpoint struct {
	NextStation int       `json:"next_station"`
	ResumeFrom  time.Time `json:"resume_from"`
	ResumeAfter time.Time `json:"resume_after"`
}

// Fetcher walks a station list and pulls each one's hourly series in
// API-sized chunks, throttled below the request budget.
type Fetcher struct {
	client  *Client
	sink    ObservationSink
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewFetcher assembles a Fetcher throttled to the API budget.
func NewFetcher(client *Client, sink ObservationSink, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(float64(RequestsPerHour)/3600.0), 10),
		metrics: metrics,
		logger:  logger,
	}
}

// Run fetches [from, to] for every source. When the API cuts the budget it
// returns a non-nil Checkpoint and no error; the caller persists it and
// retries after Checkpoint.ResumeAfter. Sources before the checkpoint's
// NextStation are assumed complete.
func (f *Fetcher) Run(ctx context.Context, sources []Source, from, to time.Time, cp *Checkpoint) (*Checkpoint, error) {
	start := 0
	var resumeFrom time.Time
	if cp != nil {
		start = cp.NextStation
		resumeFrom = cp.ResumeFrom
	}

	for i := start; i < len(sources); i++ {
		src := sources[i]
		if src.ModuleID == "" {
			f.logger.Warn("skipping station without outdoor module", "station", src.Station.ID)
			continue
		}

		// Only the checkpointed station was partially fetched; everything
		// after it still needs the full window.
		begin := from
		if i == start && !resumeFrom.IsZero() {
			begin = resumeFrom
		}

		next, err := f.fetchStation(ctx, src, begin, to)
		if errors.Is(err, ErrRateLimited) {
			f.metrics.FetchRequests.WithLabelValues("throttled").Inc()
			f.logger.Warn("request budget exhausted, checkpointing",
				"station", src.Station.ID, "resume_from", next)
			return &Checkpoint{
				NextStation: i,
				ResumeFrom:  next,
				ResumeAfter: domain.Now().Add(time.Hour),
			}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch station %s: %w", src.Station.ID, err)
		}
	}
	return nil, nil
}

// fetchStation pulls one station chunk by chunk. On ErrRateLimited it
// returns the begin time of the chunk that failed so a checkpoint can
// resume exactly there.
func (f *Fetcher) fetchStation(ctx context.Context, src Source, from, to time.Time) (time.Time, error) {
	begin := from
	for begin.Before(to) {
		end := begin.Add(ChunkHours * time.Hour)
		if end.After(to) {
			end = to
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return begin, err
		}

		callStart := time.Now()
		obs, err := f.client.GetMeasure(ctx, src.DeviceID, src.ModuleID, begin, end)
		f.metrics.FetchAPIDuration.Observe(time.Since(callStart).Seconds())
		if err != nil {
			if !errors.Is(err, ErrRateLimited) {
				f.metrics.FetchRequests.WithLabelValues("error").Inc()
			}
			return begin, err
		}
		f.metrics.FetchRequests.WithLabelValues("success").Inc()

		if len(obs) > 0 {
			// Observations carry the device ID; rewrite to the station's.
			for j := range obs {
				obs[j].StationID = src.Station.ID
			}
			if err := f.sink.InsertObservations(ctx, obs); err != nil {
				return begin, fmt.Errorf("store observations: %w", err)
			}
			f.metrics.ObservationsRead.Add(float64(len(obs)))
		}
		f.logger.Debug("chunk fetched",
			"station", src.Station.ID,
			"from", begin.Format(time.RFC3339),
			"to", end.Format(time.RFC3339),
			"observations", len(obs),
		)

		// Next chunk starts on the following hour boundary.
		begin = end.Truncate(time.Hour).Add(time.Hour)
	}
	return to, nil
}
