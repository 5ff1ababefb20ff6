package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/approvalcenter/internal/config"
)

const defaultAnomalyWindow = 300 * time.Second

// minAnomalySamples is the number of observations needed before a rate is judged.
const minAnomalySamples = 5

// AnomalyDetector flags operations whose error rate over a sliding window
// crosses a threshold. Operations are keyed by name, e.g. "list:absence_request"
// or "approve".
type AnomalyDetector struct {
	mu        sync.Mutex
	errors    map[string]*slidingWindow
	successes map[string]*slidingWindow
	threshold float64
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	window := defaultAnomalyWindow
	if cfg.WindowSeconds > 0 {
		window = time.Duration(cfg.WindowSeconds) * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyDetector{
		errors:    make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		threshold: cfg.ErrorRateThreshold,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordError records a failed operation and reports whether the error rate
// is now above the threshold.
func (a *AnomalyDetector) RecordError(operation string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.errors, operation).add(a.now(), 1)
	return a.checkErrorRate(operation)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.successes, operation).add(a.now(), 1)
}

// ErrorRate returns the windowed error rate and sample count for operation.
func (a *AnomalyDetector) ErrorRate(operation string) (rate float64, total float64) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate(operation)
}

// Must be called with a.mu held.
func (a *AnomalyDetector) rate(operation string) (float64, float64) {
	now := a.now()
	errs := a.windowFor(a.errors, operation).sum(now)
	total := errs + a.windowFor(a.successes, operation).sum(now)
	if total == 0 {
		return 0, 0
	}
	return errs / total, total
}

// checkErrorRate logs when the error rate exceeds the threshold.
// Must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(operation string) bool {
	if a.threshold <= 0 {
		return false
	}
	rate, total := a.rate(operation)
	if total < minAnomalySamples || rate <= a.threshold {
		return false
	}
	a.logger.Warn("anomaly detected: high error rate",
		slog.String("operation", operation),
		slog.Float64("error_rate", rate),
		slog.Float64("threshold", a.threshold),
		slog.Float64("total", total),
	)
	return true
}

func (a *AnomalyDetector) windowFor(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time, value float64) {
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

func (w *slidingWindow) sum(now time.Time) float64 {
	w.prune(now)
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune removes entries older than the window.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
