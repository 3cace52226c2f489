package rclone

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/vrpsync/vrpsync/internal/progress"
	"github.com/vrpsync/vrpsync/internal/safety"
)

// DefaultPollInterval is how often the control endpoint is asked for stats.
const DefaultPollInterval = time.Second

// coreStats is the subset of rclone's core/stats response we read.
type coreStats struct {
	Bytes        float64           `json:"bytes"`
	TotalBytes   float64           `json:"totalBytes"`
	Speed        float64           `json:"speed"`
	ETA          *float64          `json:"eta"`
	Transferring []json.RawMessage `json:"transferring"`
}

// Monitor polls a running rclone's remote-control endpoint and forwards
// transfer statistics to a progress sink.
type Monitor struct {
	client   *http.Client
	endpoint string
	interval time.Duration
	sink     progress.Sink
	logger   *slog.Logger
}

// NewMonitor creates a monitor for the control endpoint at addr (host:port).
// The endpoint must be on a loopback address. interval <= 0 selects
// DefaultPollInterval.
func NewMonitor(addr string, interval time.Duration, sink progress.Sink, logger *slog.Logger) (*Monitor, error) {
	u, err := url.Parse("http://" + addr + "/core/stats")
	if err != nil {
		return nil, fmt.Errorf("invalid rc address %q: %w", addr, err)
	}
	if !safety.IsLoopbackHost(u) {
		return nil, fmt.Errorf("rc address %q is not a loopback address", addr)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if sink == nil {
		sink = progress.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		// The control endpoint is local; never route it through a proxy.
		client:   safety.NewHTTPClient(interval, nil),
		endpoint: u.String(),
		interval: interval,
		sink:     sink,
		logger:   logger,
	}, nil
}

// Watch polls once per interval until done is closed or ctx ends. Poll
// errors are expected while rclone starts up or shuts down and are ignored.
func (m *Monitor) Watch(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats, active, err := m.Poll(ctx)
		if err != nil {
			m.logger.Debug("rc poll failed", "endpoint", m.endpoint, "error", err)
			continue
		}
		if active {
			m.sink.Report(stats)
		}
	}
}

// Poll asks the control endpoint for current statistics. active is false
// when rclone reports no transfer in progress.
func (m *Monitor) Poll(ctx context.Context) (progress.Stats, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return progress.Stats{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return progress.Stats{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return progress.Stats{}, false, fmt.Errorf("rc returned %s", resp.Status)
	}

	body, err := safety.ReadAllWithLimit(resp.Body, 4<<20)
	if err != nil {
		return progress.Stats{}, false, err
	}

	var cs coreStats
	if err := json.Unmarshal(body, &cs); err != nil {
		return progress.Stats{}, false, fmt.Errorf("decoding core/stats: %w", err)
	}

	if len(cs.Transferring) == 0 {
		return progress.Stats{}, false, nil
	}

	stats := progress.Stats{
		BytesTransferred: int64(cs.Bytes),
		TotalBytes:       int64(cs.TotalBytes),
		SpeedBytesPerSec: cs.Speed,
	}
	if cs.ETA != nil {
		stats.ETA = time.Duration(*cs.ETA * float64(time.Second))
		stats.ETAKnown = true
	}
	return stats, true, nil
}
