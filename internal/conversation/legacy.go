package conversation

import (
	"sort"
	"strconv"

	"github.com/chirino/swarm-sync/internal/model"
)

// timeline is the history of a legacy conversation, ordered by timestamp
// only. It gives no causal guarantee and is kept apart from graph.
type timeline struct {
	history []*model.Interaction
	byID    map[int64]*model.Interaction
	// byTime indexes received nodes by TimeKey so that a node redelivered
	// without an id resolves to the one already held.
	byTime map[string]*model.Interaction
	nextID int64

	lastDisplayed *model.Interaction

	visible func() bool
	emit    func(model.ElementAction, *model.Interaction)
}

func newTimeline(visible func() bool, emit func(model.ElementAction, *model.Interaction)) *timeline {
	return &timeline{
		byID:    map[int64]*model.Interaction{},
		byTime:  map[string]*model.Interaction{},
		visible: visible,
		emit:    emit,
	}
}

func (t *timeline) reset() {
	t.history = nil
	t.byID = map[int64]*model.Interaction{}
	t.byTime = map[string]*model.Interaction{}
	t.lastDisplayed = nil
}

// receive adds a node delivered from outside, which may be a redelivery. It
// returns the node held for it.
func (t *timeline) receive(n *model.Interaction) *model.Interaction {
	key := n.TimeKey()
	if n.ID == 0 {
		if existing, ok := t.byTime[key]; ok {
			t.merge(existing, n)
			return existing
		}
	}
	held := t.add(n)
	if _, ok := t.byTime[key]; !ok {
		t.byTime[key] = held
	}
	return held
}

// add inserts n in timestamp order, or updates the status of a node with the
// same id. Nodes without an id get the next sequence id.
func (t *timeline) add(n *model.Interaction) *model.Interaction {
	if n.ID == 0 {
		t.nextID++
		n.ID = t.nextID
	} else if n.ID > t.nextID {
		t.nextID = n.ID
	}
	if existing, ok := t.byID[n.ID]; ok {
		t.merge(existing, n)
		return existing
	}
	if n.Type == model.InteractionText && t.visible() {
		n.Read = true
	}
	at := sort.Search(len(t.history), func(i int) bool {
		return t.history[i].Timestamp > n.Timestamp
	})
	t.history = append(t.history, nil)
	copy(t.history[at+1:], t.history[at:])
	t.history[at] = n
	t.byID[n.ID] = n
	t.emit(model.ElementAdd, n)
	return n
}

func (t *timeline) merge(existing, n *model.Interaction) {
	if n.Status != "" && existing.Status != n.Status {
		existing.Status = n.Status
		t.emit(model.ElementUpdate, existing)
	}
}

func (t *timeline) lookup(messageID string) *model.Interaction {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return nil
	}
	return t.byID[id]
}

func (t *timeline) updateStatus(messageID, peer string, st model.InteractionStatus) bool {
	n := t.lookup(messageID)
	if n == nil {
		return false
	}
	if peer != "" {
		if n.StatusMap == nil {
			n.StatusMap = map[string]model.InteractionStatus{}
		}
		n.StatusMap[peer] = st
	}
	if n.Status != st {
		n.Status = st
		t.emit(model.ElementUpdate, n)
	}
	if st == model.StatusDisplayed && (t.lastDisplayed == nil || t.isAfter(t.lastDisplayed, n)) {
		t.lastDisplayed = n
	}
	return true
}

func (t *timeline) remove(messageID string) *model.Interaction {
	n := t.lookup(messageID)
	if n == nil {
		return nil
	}
	delete(t.byID, n.ID)
	if t.byTime[n.TimeKey()] == n {
		delete(t.byTime, n.TimeKey())
	}
	for i, h := range t.history {
		if h == n {
			t.history = append(t.history[:i], t.history[i+1:]...)
			break
		}
	}
	return n
}

func (t *timeline) lastEvent() *model.Interaction {
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Type != model.InteractionInvalid {
			return t.history[i]
		}
	}
	return nil
}

// isAfter compares timestamps.
func (t *timeline) isAfter(prev, q *model.Interaction) bool {
	return prev.Timestamp < q.Timestamp
}

// readMessages marks the trailing run of unread text messages read.
func (t *timeline) readMessages() []*model.Interaction {
	var read []*model.Interaction
	for i := len(t.history) - 1; i >= 0; i-- {
		n := t.history[i]
		if n.Type != model.InteractionText {
			continue
		}
		if n.Read {
			break
		}
		n.Read = true
		read = append(read, n)
	}
	return read
}
