package mediaworker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const (
	// How often the observer aggregates levels.
	observerInterval = time.Second
	// Producers quieter than this are treated as silent.
	speakingThresholdDBFS = -50
	// Levels below the floor are clamped and ignored entirely.
	levelFloorDBFS = -60
	// At most this many speakers are reported per tick.
	maxActiveSpeakers = 3
)

// ProducerVolume is one audio producer's volume at the latest observer tick.
type ProducerVolume struct {
	ProducerID ProducerID
	VolumeDBFS float64
}

// AudioLevelEvent is emitted by the observer once per tick when the speaker
// set changed. `Silence` is set when nobody is above the speaking threshold.
type AudioLevelEvent struct {
	// Speakers above the threshold, loudest first. Empty on silence.
	Speakers []ProducerVolume
	Silence  bool
}

// AudioLevelObserver aggregates the reported audio levels of a router's
// audio producers and periodically reports the dominant speakers.
type AudioLevelObserver struct {
	logger *logrus.Entry

	mutex   sync.Mutex
	levels  map[ProducerID]float64
	silent  bool
	events  chan AudioLevelEvent
	done    chan struct{}
	stopped bool
}

func newAudioLevelObserver(logger *logrus.Entry) *AudioLevelObserver {
	return &AudioLevelObserver{
		logger: logger,
		levels: make(map[ProducerID]float64),
		events: make(chan AudioLevelEvent, 16),
		done:   make(chan struct{}),
		silent: true,
	}
}

// Events is the stream of speaker changes. Consumed by the SFU router.
func (o *AudioLevelObserver) Events() <-chan AudioLevelEvent { return o.events }

// AddProducer registers an audio producer with the observer. Producers start
// below the floor (silent) until a level is reported.
func (o *AudioLevelObserver) AddProducer(id ProducerID) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.levels[id] = levelFloorDBFS
}

func (o *AudioLevelObserver) RemoveProducer(id ProducerID) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	delete(o.levels, id)
}

// ReportLevel records the latest volume for a producer. Values below the
// floor are clamped to the floor.
func (o *AudioLevelObserver) ReportLevel(id ProducerID, volumeDBFS float64) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if _, ok := o.levels[id]; !ok {
		return
	}
	if volumeDBFS < levelFloorDBFS {
		volumeDBFS = levelFloorDBFS
	}
	o.levels[id] = volumeDBFS
}

func (o *AudioLevelObserver) start() {
	go func() {
		ticker := time.NewTicker(observerInterval)
		defer ticker.Stop()

		for {
			select {
			case <-o.done:
				return
			case <-ticker.C:
				o.tick()
			}
		}
	}()
}

// tick computes the dominant speakers and emits an event when the set is
// non-empty, or a silence event on the transition to silence.
func (o *AudioLevelObserver) tick() {
	o.mutex.Lock()
	speakers := make([]ProducerVolume, 0, len(o.levels))
	for id, level := range o.levels {
		if level > speakingThresholdDBFS {
			speakers = append(speakers, ProducerVolume{ProducerID: id, VolumeDBFS: level})
		}
	}
	slices.SortFunc(speakers, func(a, b ProducerVolume) int {
		switch {
		case a.VolumeDBFS > b.VolumeDBFS:
			return -1
		case a.VolumeDBFS < b.VolumeDBFS:
			return 1
		default:
			return 0
		}
	})
	if len(speakers) > maxActiveSpeakers {
		speakers = speakers[:maxActiveSpeakers]
	}

	wasSilent := o.silent
	o.silent = len(speakers) == 0
	o.mutex.Unlock()

	if len(speakers) > 0 {
		o.emit(AudioLevelEvent{Speakers: speakers})
	} else if !wasSilent {
		o.emit(AudioLevelEvent{Silence: true})
	}
}

func (o *AudioLevelObserver) emit(event AudioLevelEvent) {
	select {
	case o.events <- event:
	default:
		// The consumer is not keeping up; speaker updates are droppable.
	}
}

func (o *AudioLevelObserver) stop() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if !o.stopped {
		o.stopped = true
		close(o.done)
	}
}
