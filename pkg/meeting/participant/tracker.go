package participant

// Tracker owns the participant set of one meeting. Only the meeting actor
// touches it, so no synchronization is needed.
type Tracker struct {
	participants map[ID]*Participant
}

func NewTracker() *Tracker {
	return &Tracker{participants: make(map[ID]*Participant)}
}

func (t *Tracker) Add(p *Participant) {
	t.participants[p.ID] = p
}

func (t *Tracker) Get(id ID) *Participant {
	return t.participants[id]
}

func (t *Tracker) Has(id ID) bool {
	_, ok := t.participants[id]
	return ok
}

// Count returns the number of participants, suspended ones included: a
// ghost still occupies its seat until the grace window elapses.
func (t *Tracker) Count() int {
	return len(t.participants)
}

func (t *Tracker) HasParticipants() bool {
	return len(t.participants) != 0
}

// ForEach calls the closure on every participant.
func (t *Tracker) ForEach(fn func(ID, *Participant)) {
	for id, p := range t.participants {
		fn(id, p)
	}
}

// Remove tears down the participant's media and removes it from the set.
func (t *Tracker) Remove(id ID) *Participant {
	p := t.participants[id]
	if p == nil {
		return nil
	}

	p.CloseMedia()
	delete(t.participants, id)
	return p
}
