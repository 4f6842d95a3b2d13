package participant

import "time"

// DefaultWindowSize bounds the per-participant quality window.
const DefaultWindowSize = 10

// Sample is one link-quality report from a client or from router stats.
type Sample struct {
	BitrateBps    int       `json:"bitrateBps"`
	PacketLossPct float64   `json:"packetLossPct"`
	JitterMs      float64   `json:"jitterMs"`
	RoundTripMs   float64   `json:"roundTripMs"`
	Timestamp     time.Time `json:"timestamp"`
}

// QualityWindow keeps the most recent N samples for one participant.
type QualityWindow struct {
	samples []Sample
	size    int
}

func NewQualityWindow(size int) *QualityWindow {
	return &QualityWindow{size: size}
}

// Append adds a sample, evicting the oldest once the window is full.
func (w *QualityWindow) Append(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	w.samples = append(w.samples, sample)
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}
}

func (w *QualityWindow) Len() int { return len(w.samples) }

// Clear drops all samples. Used when a participant leaves and rejoins.
func (w *QualityWindow) Clear() { w.samples = nil }

// Averages returns the mean packet loss and round-trip time across the
// window. Returns zeros for an empty window.
func (w *QualityWindow) Averages() (packetLossPct, roundTripMs float64) {
	if len(w.samples) == 0 {
		return 0, 0
	}

	for _, s := range w.samples {
		packetLossPct += s.PacketLossPct
		roundTripMs += s.RoundTripMs
	}
	n := float64(len(w.samples))
	return packetLossPct / n, roundTripMs / n
}

// Latest returns the most recent sample, or nil for an empty window.
func (w *QualityWindow) Latest() *Sample {
	if len(w.samples) == 0 {
		return nil
	}
	s := w.samples[len(w.samples)-1]
	return &s
}
