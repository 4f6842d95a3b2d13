package sfu

import (
	"testing"

	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/stretchr/testify/assert"
)

func TestMapSpeakersFollowsOwnership(t *testing.T) {
	r := &Router{owners: map[mediaworker.ProducerID]participant.ID{
		"p1": "@alice",
		"p2": "@bob",
	}}

	event := mediaworker.AudioLevelEvent{Speakers: []mediaworker.ProducerVolume{
		{ProducerID: "p2", VolumeDBFS: -20},
		{ProducerID: "p1", VolumeDBFS: -30},
		{ProducerID: "orphan", VolumeDBFS: -25},
	}}

	// Ordering follows the observer; producers without a live owner are
	// dropped from the speaker set.
	assert.Equal(t, []participant.ID{"@bob", "@alice"}, r.mapSpeakers(event))
}
