package conversation

import (
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
)

// conference groups live legs. A simple call is a conference keyed by its
// only leg's id; the leg's ConfID is empty in that case.
type conference struct {
	id            string
	simple        bool
	legs          []string
	state         model.CallStatus
	info          []model.ParticipantInfo
	recording     map[string]bool
	isModerator   bool
	startedAt     int64
	establishedAt int64
	endedAt       int64
	direction     model.Direction
	peer          string
}

// reconciler tracks the call legs and conferences of one conversation.
// Callers hold the owning Conversation's lock.
type reconciler struct {
	legs        map[string]*model.CallLeg
	conferences map[string]*conference
	pendingJoin map[string]string // call id -> conference id
	now         func() time.Time
}

func newReconciler(now func() time.Time) *reconciler {
	return &reconciler{
		legs:        map[string]*model.CallLeg{},
		conferences: map[string]*conference{},
		pendingJoin: map[string]string{},
		now:         now,
	}
}

func (r *reconciler) nowMillis() int64 {
	return r.now().UnixMilli()
}

func (r *reconciler) conferenceOf(leg *model.CallLeg) *conference {
	if leg.ConfID != "" {
		return r.conferences[leg.ConfID]
	}
	return r.conferences[leg.ID]
}

func (r *reconciler) newConference(id string, simple bool) *conference {
	c := &conference{id: id, simple: simple, recording: map[string]bool{}, startedAt: r.nowMillis()}
	r.conferences[id] = c
	return c
}

// attach puts leg into c, removing it from its previous conference first.
func (r *reconciler) attach(leg *model.CallLeg, c *conference) {
	if old := r.conferenceOf(leg); old != nil && old != c {
		r.detachFrom(old, leg.ID)
		if old.startedAt < c.startedAt {
			c.startedAt = old.startedAt
		}
		if old.establishedAt != 0 && (c.establishedAt == 0 || old.establishedAt < c.establishedAt) {
			c.establishedAt = old.establishedAt
		}
		if len(old.legs) == 0 {
			delete(r.conferences, old.id)
		}
	}
	for _, id := range c.legs {
		if id == leg.ID {
			return
		}
	}
	if c.simple {
		leg.ConfID = ""
	} else {
		leg.ConfID = c.id
	}
	if len(c.legs) == 0 {
		c.direction = leg.Direction
		c.peer = leg.PeerURI
	}
	c.legs = append(c.legs, leg.ID)
	if leg.EstablishedAt != 0 && (c.establishedAt == 0 || leg.EstablishedAt < c.establishedAt) {
		c.establishedAt = leg.EstablishedAt
	}
}

func (r *reconciler) detachFrom(c *conference, callID string) {
	for i, id := range c.legs {
		if id == callID {
			c.legs = append(c.legs[:i], c.legs[i+1:]...)
			return
		}
	}
}

// standalone moves leg into a fresh simple conference of its own.
func (r *reconciler) standalone(leg *model.CallLeg) {
	c := r.conferences[leg.ID]
	if c == nil || !c.simple {
		c = r.newConference(leg.ID, true)
	}
	r.attach(leg, c)
}

// callStateChanged applies a leg state change. It returns the call node to
// commit when the last leg of a conference ended, and whether anything changed.
func (r *reconciler) callStateChanged(callID string, status model.CallStatus, d model.CallDetails) (*model.Interaction, bool) {
	leg, ok := r.legs[callID]
	if !ok {
		if status.IsOver() {
			log.Warn("State change for unknown call ignored", "callId", callID, "state", status)
			metrics.UnknownReference("call")
			return nil, false
		}
		leg = &model.CallLeg{
			ID:        callID,
			Account:   d.Account,
			PeerURI:   d.PeerURI,
			Direction: d.Direction,
			Status:    model.CallNone,
			StartedAt: r.nowMillis(),
		}
		r.legs[callID] = leg
	}

	changed := !ok || leg.Status != status || leg.PeerHolding != d.PeerHolding
	leg.Status = status
	leg.PeerHolding = d.PeerHolding
	if d.AudioCodec != "" {
		leg.AudioCodec = d.AudioCodec
	}
	if d.VideoCodec != "" {
		leg.VideoCodec = d.VideoCodec
	}
	if leg.PeerURI == "" {
		leg.PeerURI = d.PeerURI
	}

	if confID, ok := r.pendingJoin[callID]; ok {
		delete(r.pendingJoin, callID)
		if c := r.conferences[confID]; c != nil {
			r.attach(leg, c)
			changed = true
		}
	}
	if r.conferenceOf(leg) == nil {
		r.standalone(leg)
	}
	c := r.conferenceOf(leg)

	if status == model.CallCurrent && leg.EstablishedAt == 0 {
		leg.EstablishedAt = r.nowMillis()
		if c.establishedAt == 0 {
			c.establishedAt = leg.EstablishedAt
		}
	}

	if !status.IsOver() {
		return nil, changed
	}

	leg.EndedAt = r.nowMillis()
	delete(r.legs, callID)
	r.detachFrom(c, callID)
	if leg.EndedAt > c.endedAt {
		c.endedAt = leg.EndedAt
	}
	if len(c.legs) > 0 {
		return nil, true
	}
	delete(r.conferences, c.id)
	r.dropPendingJoins(c.id)
	return c.commit(), true
}

// commit builds the history node of a finished conference. A conference that
// never reached CURRENT is recorded with zero duration (missed).
func (c *conference) commit() *model.Interaction {
	node := &model.Interaction{
		Type:         model.InteractionCall,
		ConfID:       c.id,
		Timestamp:    c.startedAt,
		EndTimestamp: c.endedAt,
		Author:       c.peer,
		Incoming:     c.direction == model.DirectionIncoming,
		Status:       model.StatusSuccess,
	}
	if c.establishedAt != 0 && c.endedAt > c.establishedAt {
		node.Duration = c.endedAt - c.establishedAt
	}
	return node
}

func (r *reconciler) dropPendingJoins(confID string) {
	for callID, id := range r.pendingJoin {
		if id == confID {
			delete(r.pendingJoin, callID)
		}
	}
}

// conferenceCreated groups the reported legs. Legs not known yet are
// remembered and attach on their first state change.
func (r *reconciler) conferenceCreated(confID string, participants []string) bool {
	c := r.conferences[confID]
	changed := false
	if c == nil {
		c = r.newConference(confID, false)
		changed = true
	}
	for _, id := range participants {
		if leg, ok := r.legs[id]; ok {
			if r.conferenceOf(leg) != c {
				r.attach(leg, c)
				changed = true
			}
		} else if r.pendingJoin[id] != confID {
			r.pendingJoin[id] = confID
			changed = true
		}
	}
	return changed
}

// conferenceChanged reconciles the conference membership with the reported
// set. A conference left with a single leg falls back to a simple call.
func (r *reconciler) conferenceChanged(confID string, participants []string, state string) bool {
	c := r.conferences[confID]
	if c == nil || c.simple {
		log.Warn("Change for unknown conference ignored", "confId", confID)
		metrics.UnknownReference("conference")
		return false
	}
	changed := false
	if state != "" {
		if st := model.ParseConferenceState(state); st != c.state {
			c.state = st
			changed = true
		}
	}

	reported := make(map[string]bool, len(participants))
	for _, id := range participants {
		reported[id] = true
		if leg, ok := r.legs[id]; ok {
			if r.conferenceOf(leg) != c {
				r.attach(leg, c)
				changed = true
			}
		} else if r.pendingJoin[id] != confID {
			r.pendingJoin[id] = confID
			changed = true
		}
	}
	for callID, id := range r.pendingJoin {
		if id == confID && !reported[callID] {
			delete(r.pendingJoin, callID)
			changed = true
		}
	}
	for _, id := range append([]string(nil), c.legs...) {
		if !reported[id] {
			r.standalone(r.legs[id])
			changed = true
		}
	}

	waiting := 0
	for _, id := range r.pendingJoin {
		if id == confID {
			waiting++
		}
	}
	switch {
	case len(c.legs) == 0 && waiting == 0:
		if r.conferences[confID] == c {
			delete(r.conferences, confID)
		}
	case len(c.legs) == 1 && waiting == 0:
		r.standalone(r.legs[c.legs[0]])
		changed = true
	}
	return changed
}

// conferenceRemoved detaches every leg and discards the conference.
func (r *reconciler) conferenceRemoved(confID string) bool {
	c := r.conferences[confID]
	if c == nil || c.simple {
		log.Warn("Removal of unknown conference ignored", "confId", confID)
		metrics.UnknownReference("conference")
		return false
	}
	for _, id := range append([]string(nil), c.legs...) {
		r.standalone(r.legs[id])
	}
	delete(r.conferences, confID)
	r.dropPendingJoins(confID)
	return true
}

func (r *reconciler) lookupConference(id string) *conference {
	if c := r.conferences[id]; c != nil {
		return c
	}
	if leg, ok := r.legs[id]; ok {
		return r.conferenceOf(leg)
	}
	return nil
}

func (r *reconciler) conferenceInfo(confID string, info []model.ParticipantInfo, isLocal func(string) bool) bool {
	c := r.lookupConference(confID)
	if c == nil {
		log.Warn("Info for unknown conference ignored", "confId", confID)
		metrics.UnknownReference("conference")
		return false
	}
	c.info = append([]model.ParticipantInfo(nil), info...)
	c.isModerator = false
	for _, p := range info {
		if isLocal(p.URI) {
			c.isModerator = p.IsModerator
			break
		}
	}
	return true
}

func (r *reconciler) remoteRecording(confID, peer string, recording bool) bool {
	c := r.lookupConference(confID)
	if c == nil {
		log.Warn("Recording state for unknown conference ignored", "confId", confID)
		metrics.UnknownReference("conference")
		return false
	}
	if c.recording[peer] == recording {
		return false
	}
	if recording {
		c.recording[peer] = true
	} else {
		delete(c.recording, peer)
	}
	return true
}

func (r *reconciler) mediaChanged(callID string, media []model.Media) bool {
	leg, ok := r.legs[callID]
	if !ok {
		log.Warn("Media change for unknown call ignored", "callId", callID)
		metrics.UnknownReference("call")
		return false
	}
	leg.Media = append([]model.Media(nil), media...)
	return true
}

// release removes a live leg without committing anything, so that another
// conversation can adopt it.
func (r *reconciler) release(callID string) (*model.CallLeg, bool) {
	leg, ok := r.legs[callID]
	if !ok {
		return nil, false
	}
	delete(r.legs, callID)
	if c := r.conferenceOf(leg); c != nil {
		r.detachFrom(c, callID)
		if len(c.legs) == 0 {
			delete(r.conferences, c.id)
		}
	}
	delete(r.pendingJoin, callID)
	leg.ConfID = ""
	return leg, true
}

func (r *reconciler) adopt(leg *model.CallLeg) {
	if _, ok := r.legs[leg.ID]; ok {
		return
	}
	r.legs[leg.ID] = leg
	leg.ConfID = ""
	r.standalone(leg)
}

// snapshot returns the conferences ordered by start time.
func (r *reconciler) snapshot() []model.Conference {
	out := make([]model.Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		conf := model.Conference{
			ID:          c.id,
			Info:        append([]model.ParticipantInfo(nil), c.info...),
			IsModerator: c.isModerator,
		}
		for _, id := range c.legs {
			if leg, ok := r.legs[id]; ok {
				conf.Legs = append(conf.Legs, leg.Clone())
			}
		}
		for peer := range c.recording {
			conf.Recording = append(conf.Recording, peer)
		}
		sort.Strings(conf.Recording)
		for callID, id := range r.pendingJoin {
			if id == c.id {
				conf.PendingJoin = append(conf.PendingJoin, callID)
			}
		}
		sort.Strings(conf.PendingJoin)
		conf.Status = aggregateStatus(c, conf.Legs)
		out = append(out, conf)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := r.conferences[out[i].ID], r.conferences[out[j].ID]
		if ci.startedAt != cj.startedAt {
			return ci.startedAt < cj.startedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var statusRank = map[model.CallStatus]int{
	model.CallCurrent:    6,
	model.CallUnhold:     5,
	model.CallHold:       4,
	model.CallRinging:    3,
	model.CallConnecting: 2,
	model.CallSearching:  1,
}

func aggregateStatus(c *conference, legs []model.CallLeg) model.CallStatus {
	if !c.simple && len(legs) > 1 && c.state != "" && c.state != model.CallNone {
		return c.state
	}
	best := model.CallNone
	for _, l := range legs {
		if statusRank[l.Status] > statusRank[best] {
			best = l.Status
		}
	}
	return best
}

func (r *reconciler) hasCall(callID string) bool {
	_, ok := r.legs[callID]
	return ok
}
