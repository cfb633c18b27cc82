// Package anomaly scores events with a pre-trained isolation forest. The
// model is trained offline and shipped as a JSON artifact; a missing
// artifact disables scoring instead of failing the worker.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/statestore"
)

// featureCount is the width of the feature vector:
// [hour_of_day, message_length, is_ssh, login_rate].
const featureCount = 4

// explainThreshold is the score above which an explanation is computed.
const explainThreshold = 0.6

// Fallback baselines for artifacts that predate the externalized
// explanation constants.
var (
	defaultMeans  = []float64{14, 60, 0, 5}
	defaultStds   = []float64{4, 20, 1, 5}
	defaultLabels = []string{"Time of Day", "Message Size", "Protocol", "Request Frequency"}
)

// Result is the scorer's verdict for one event.
type Result struct {
	Score       float64
	Explanation string
}

// Scorer extracts features and runs the forest. The login-rate feature is
// read live from the state store, so scoring sees the same counters the
// ingest rate limiter maintains.
type Scorer struct {
	forest *Forest
	store  *statestore.Store

	means  []float64
	stds   []float64
	labels []string
}

// New builds a scorer from the artifact at modelPath. A missing or
// invalid artifact disables scoring; the worker keeps running and every
// event gets a zero score.
func New(modelPath string, store *statestore.Store) *Scorer {
	s := NewWithForest(nil, store)
	forest, err := LoadForest(modelPath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Anomaly model not found, scoring disabled", "path", modelPath)
		return s
	}
	if err != nil {
		slog.Error("Failed to load anomaly model, scoring disabled", "path", modelPath, "error", err)
		return s
	}
	s.setForest(forest)
	slog.Info("Anomaly model loaded", "path", modelPath, "trees", len(forest.Trees), "max_samples", forest.MaxSamples)
	return s
}

// NewWithForest builds a scorer around an already loaded forest. A nil
// forest means scoring is disabled.
func NewWithForest(forest *Forest, store *statestore.Store) *Scorer {
	if store == nil {
		panic("state store cannot be nil")
	}
	s := &Scorer{
		store:  store,
		means:  defaultMeans,
		stds:   defaultStds,
		labels: defaultLabels,
	}
	if forest != nil {
		s.setForest(forest)
	}
	return s
}

func (s *Scorer) setForest(forest *Forest) {
	s.forest = forest
	if b := forest.Baselines; b != nil {
		s.means, s.stds, s.labels = b.Means, b.Stds, b.Labels
	}
}

// Loaded reports whether a model is available for scoring.
func (s *Scorer) Loaded() bool {
	return s.forest != nil
}

// Score runs the forest over the event's feature vector. Scoring never
// fails the pipeline: without a model the verdict is zero, and a state
// store failure during feature extraction yields the generic error
// verdict so the event continues.
func (s *Scorer) Score(ctx context.Context, event *models.Event) Result {
	if s.forest == nil {
		return Result{Score: 0, Explanation: "Model not loaded"}
	}

	features, err := s.features(ctx, event)
	if err != nil {
		slog.Error("Anomaly scoring failed", "event_id", event.ID, "error", err)
		return Result{Score: 0, Explanation: "Error"}
	}

	score := mapDecision(s.forest.DecisionFunction(features))
	result := Result{Score: score}
	if score > explainThreshold {
		result.Explanation = s.explain(features)
	}
	return result
}

func (s *Scorer) features(ctx context.Context, event *models.Event) ([]float64, error) {
	isSSH := 0.0
	if strings.Contains(strings.ToLower(event.Source), "ssh") {
		isSSH = 1
	}

	loginRate := 0.0
	if ip := event.EffectiveIP(); ip != "" {
		rate, err := s.store.GetInt(ctx, statestore.RateLimitKey(ip))
		if err != nil {
			return nil, fmt.Errorf("reading login rate for %s: %w", ip, err)
		}
		loginRate = float64(rate)
	}

	return []float64{
		hourOf(event.Timestamp),
		float64(len(event.Message)),
		isSSH,
		loginRate,
	}, nil
}

// hourOf pulls the hour out of an ISO-8601 timestamp without requiring a
// zone, since producers send both zoned and naive forms. Unparseable
// input falls back to noon.
func hourOf(timestamp string) float64 {
	_, rest, ok := strings.Cut(timestamp, "T")
	if !ok {
		return 12
	}
	hh, _, _ := strings.Cut(rest, ":")
	if h, err := strconv.Atoi(hh); err == nil && h >= 0 && h <= 23 {
		return float64(h)
	}
	return 12
}

// mapDecision converts the signed decision value to the 0..1 anomaly
// scale, rounded to two decimals. Negative decisions are outliers.
func mapDecision(d float64) float64 {
	var score float64
	if d < 0 {
		score = math.Min(1.0, 0.5+2*math.Abs(d))
	} else {
		score = math.Max(0.0, 0.5-2*d)
	}
	return math.Round(score*100) / 100
}

// explain names the feature deviating furthest from its baseline, in
// units of the baseline's spread.
func (s *Scorer) explain(features []float64) string {
	maxDeviation := 0.0
	top := "Unknown"
	for i, f := range features {
		deviation := math.Abs(f-s.means[i]) / (s.stds[i] + 0.1)
		if deviation > maxDeviation {
			maxDeviation = deviation
			top = s.labels[i]
		}
	}
	return fmt.Sprintf("Anomalous %s detected", top)
}
