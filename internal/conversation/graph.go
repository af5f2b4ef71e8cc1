package conversation

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
)

// heldNode is a node known by id that could not be placed in the linear
// history yet because neither its parent nor any child is placed.
type heldNode struct {
	node     *model.Interaction
	since    time.Time
	reported bool
}

// graph is the causal history of a swarm conversation. nodes holds every
// known node, history the linearization of the placed subset. For every
// parent/child pair both present in history, the parent comes first.
//
// Callers hold the owning Conversation's lock.
type graph struct {
	nodes   map[string]*model.Interaction
	history []*model.Interaction
	placed  map[string]bool

	held    map[string]*heldNode
	waiting map[string][]string // parent id -> held children
	roots   map[string]bool     // referenced parent ids never seen

	callStarts map[string]*model.Interaction
	callEnds   map[string]*model.Interaction

	pendingEdits     map[string][]*model.Interaction
	pendingReactions map[string][]*model.Interaction
	reactionTarget   map[string]string // reaction id -> reacted node id

	lastRead      string
	lastNotified  string
	lastSent      string
	lastDisplayed map[string]string

	isLocal func(peer string) bool
	visible func() bool
	now     func() time.Time
	emit    func(model.ElementAction, *model.Interaction)
}

func newGraph(isLocal func(string) bool, visible func() bool, now func() time.Time, emit func(model.ElementAction, *model.Interaction)) *graph {
	g := &graph{
		isLocal: isLocal,
		visible: visible,
		now:     now,
		emit:    emit,
	}
	g.reset()
	return g
}

func (g *graph) reset() {
	metrics.Unlinearized(-len(g.held))
	g.nodes = map[string]*model.Interaction{}
	g.history = nil
	g.placed = map[string]bool{}
	g.held = map[string]*heldNode{}
	g.waiting = map[string][]string{}
	g.roots = map[string]bool{}
	g.callStarts = map[string]*model.Interaction{}
	g.callEnds = map[string]*model.Interaction{}
	g.pendingEdits = map[string][]*model.Interaction{}
	g.pendingReactions = map[string][]*model.Interaction{}
	g.reactionTarget = map[string]string{}
	g.lastDisplayed = map[string]string{}
}

// add integrates n and reports whether it became a new leaf. newMessage is
// false when the node comes from a backwards history load.
func (g *graph) add(n *model.Interaction, newMessage bool) bool {
	if existing, ok := g.nodes[n.MessageID]; ok {
		g.redeliver(existing, n)
		return false
	}
	switch {
	case n.Edit != "":
		g.addEdit(n, newMessage)
		return g.add(placeholder(n), newMessage)
	case n.ReactTo != "":
		g.addReaction(n)
		g.reactionTarget[n.MessageID] = n.ReactTo
		return g.add(placeholder(n), newMessage)
	case n.IsCallEnd():
		if start, ok := g.callStarts[n.ConfID]; ok {
			delete(g.callStarts, n.ConfID)
			start.SetEnded(n)
			g.update(start)
		} else {
			g.callEnds[n.ConfID] = n
		}
		return g.add(placeholder(n), newMessage)
	case n.IsCallStart():
		if end, ok := g.callEnds[n.ConfID]; ok {
			delete(g.callEnds, n.ConfID)
			n.SetEnded(end)
		} else {
			g.callStarts[n.ConfID] = n
		}
	}
	return g.register(n)
}

// placeholder keeps a causal slot for a node whose content lives elsewhere.
func placeholder(n *model.Interaction) *model.Interaction {
	return &model.Interaction{
		MessageID:       n.MessageID,
		ParentID:        n.ParentID,
		Account:         n.Account,
		ConversationURI: n.ConversationURI,
		Type:            model.InteractionInvalid,
		Timestamp:       n.Timestamp,
		Author:          n.Author,
		Incoming:        n.Incoming,
		Status:          model.StatusInvalid,
		StatusMap:       n.StatusMap,
	}
}

// redeliver merges a repeated delivery into the node already known. Identity,
// position and content are kept; only per-peer status is folded in.
func (g *graph) redeliver(existing, n *model.Interaction) {
	for peer, st := range n.StatusMap {
		g.updateStatus(existing.MessageID, peer, st, false)
	}
}

func (g *graph) register(n *model.Interaction) bool {
	id := n.MessageID
	g.nodes[id] = n
	delete(g.roots, id)
	if n.ParentID != "" {
		if _, ok := g.nodes[n.ParentID]; !ok {
			g.roots[n.ParentID] = true
		}
	}
	if edits, ok := g.pendingEdits[id]; ok && n.Type != model.InteractionInvalid {
		delete(g.pendingEdits, id)
		for _, e := range edits {
			applyEdit(n, e, true)
		}
	}
	if reactions, ok := g.pendingReactions[id]; ok && n.Type != model.InteractionInvalid {
		delete(g.pendingReactions, id)
		for _, r := range reactions {
			addReactionTo(n, r)
		}
	}
	for peer, cursor := range g.lastDisplayed {
		if cursor == id {
			n.DisplayedContacts = appendUnique(n.DisplayedContacts, peer)
		}
	}
	for peer, st := range n.StatusMap {
		g.applyCursor(n, peer, st)
	}
	if g.lastRead == id {
		n.Read = true
	}
	if g.lastNotified == id {
		n.Notified = true
	}

	newLeaf, ok := g.place(n)
	if !ok {
		log.Warn("Can't attach interaction yet", "messageId", id, "parentId", n.ParentID)
		g.hold(n)
		return false
	}

	work := []string{id}
	for len(work) > 0 {
		x := g.nodes[work[0]]
		work = work[1:]
		var candidates []string
		if _, ok := g.held[x.ParentID]; ok {
			candidates = append(candidates, x.ParentID)
		}
		candidates = append(candidates, g.waiting[x.MessageID]...)
		for _, c := range candidates {
			h, ok := g.held[c]
			if !ok {
				continue
			}
			if _, placed := g.place(h.node); placed {
				g.release(c)
				work = append(work, c)
			}
		}
	}
	return newLeaf
}

// place inserts n into history. It returns whether n is a new leaf and
// whether it could be placed at all.
func (g *graph) place(n *model.Interaction) (bool, bool) {
	id := n.MessageID
	at := -1
	leaf := false
	if len(g.history) == 0 || g.history[len(g.history)-1].MessageID == n.ParentID {
		at = len(g.history)
		leaf = true
	} else {
		for i, h := range g.history {
			if h.ParentID == id {
				at = i
				leaf = true
				for _, after := range g.history[i:] {
					if after.Type != model.InteractionInvalid {
						leaf = false
						break
					}
				}
				break
			}
		}
		if at < 0 && n.ParentID != "" {
			for i := len(g.history) - 1; i >= 0; i-- {
				if g.history[i].MessageID == n.ParentID {
					at = i + 1
					leaf = true
					break
				}
			}
		}
	}
	if at < 0 {
		return false, false
	}

	g.history = append(g.history, nil)
	copy(g.history[at+1:], g.history[at:])
	g.history[at] = n
	g.placed[id] = true

	if leaf && g.visible() {
		n.Read = true
		g.lastRead = id
	}
	g.emit(model.ElementAdd, n)
	return leaf, true
}

func (g *graph) hold(n *model.Interaction) {
	if _, ok := g.held[n.MessageID]; ok {
		return
	}
	g.held[n.MessageID] = &heldNode{node: n, since: g.now()}
	g.waiting[n.ParentID] = append(g.waiting[n.ParentID], n.MessageID)
	metrics.Unlinearized(1)
}

func (g *graph) release(id string) {
	h, ok := g.held[id]
	if !ok {
		return
	}
	delete(g.held, id)
	siblings := g.waiting[h.node.ParentID]
	for i, s := range siblings {
		if s == id {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(g.waiting, h.node.ParentID)
	} else {
		g.waiting[h.node.ParentID] = siblings
	}
	metrics.Unlinearized(-1)
}

// update publishes a change to a node that is already visible in history.
func (g *graph) update(n *model.Interaction) {
	if g.placed[n.MessageID] {
		g.emit(model.ElementUpdate, n)
	}
}

// lastEvent is the most recent non-placeholder entry of history.
func (g *graph) lastEvent() *model.Interaction {
	for i := len(g.history) - 1; i >= 0; i-- {
		if g.history[i].Type != model.InteractionInvalid {
			return g.history[i]
		}
	}
	return nil
}

// isAfter reports whether q descends from the node identified by prev.
func (g *graph) isAfter(prev string, q *model.Interaction) bool {
	for steps := 0; q != nil && q.ParentID != "" && steps <= len(g.nodes); steps++ {
		if q.ParentID == prev {
			return true
		}
		q = g.nodes[q.ParentID]
	}
	return false
}

// updateStatus merges one per-peer status into a known node. It reports
// whether the node was found.
func (g *graph) updateStatus(messageID, peer string, st model.InteractionStatus, downgrade bool) bool {
	n, ok := g.nodes[messageID]
	if !ok {
		return false
	}
	changed := false
	if n.StatusMap[peer] != st {
		if n.StatusMap == nil {
			n.StatusMap = map[string]model.InteractionStatus{}
		}
		n.StatusMap[peer] = st
		changed = true
	}
	switch st {
	case model.StatusDisplayed:
		if !g.isLocal(peer) && g.advanceDisplayed(peer, n) {
			changed = true
		}
	case model.StatusSending:
	default:
		if st == model.StatusSuccess && g.advanceSent(n) {
			changed = true
		}
		target := st
		if downgrade {
			target = model.StatusSending
			log.Warn("Status update downgraded node to SENDING", "messageId", messageID, "peer", peer, "status", st)
		}
		if n.Status != target {
			n.Status = target
			changed = true
		}
	}
	if changed {
		g.update(n)
	}
	return true
}

// applyCursor folds a status carried by an arriving node into the cursors.
func (g *graph) applyCursor(n *model.Interaction, peer string, st model.InteractionStatus) {
	switch st {
	case model.StatusDisplayed:
		if !g.isLocal(peer) {
			g.advanceDisplayed(peer, n)
		}
	case model.StatusSuccess:
		g.advanceSent(n)
	}
}

func (g *graph) advanceDisplayed(peer string, n *model.Interaction) bool {
	cur, ok := g.lastDisplayed[peer]
	if cur == n.MessageID || (ok && !g.isAfter(cur, n)) {
		return false
	}
	if prev, found := g.nodes[cur]; ok && found {
		prev.DisplayedContacts = removeValue(prev.DisplayedContacts, peer)
		g.update(prev)
	}
	g.lastDisplayed[peer] = n.MessageID
	n.DisplayedContacts = appendUnique(n.DisplayedContacts, peer)
	return true
}

func (g *graph) advanceSent(n *model.Interaction) bool {
	if g.lastSent == n.MessageID || (g.lastSent != "" && !g.isAfter(g.lastSent, n)) {
		return false
	}
	g.lastSent = n.MessageID
	return true
}

func (g *graph) setLastRead(id string) {
	g.lastRead = id
	if n, ok := g.nodes[id]; ok && !n.Read {
		n.Read = true
		g.update(n)
	}
}

func (g *graph) setLastNotified(id string) {
	g.lastNotified = id
	if n, ok := g.nodes[id]; ok && !n.Notified {
		n.Notified = true
		g.update(n)
	}
}

func (g *graph) addEdit(e *model.Interaction, newMessage bool) {
	if target, ok := g.reactionTarget[e.Edit]; ok {
		if e.Body == "" {
			g.removeReaction(target, e.Edit)
		}
		return
	}
	if n, ok := g.nodes[e.Edit]; ok && n.Type != model.InteractionInvalid {
		applyEdit(n, e, newMessage)
		g.update(n)
		return
	}
	edits := g.pendingEdits[e.Edit]
	edits = removeByID(edits, e.MessageID)
	if newMessage {
		edits = append(edits, e)
	} else {
		edits = append([]*model.Interaction{e}, edits...)
	}
	g.pendingEdits[e.Edit] = edits
}

func applyEdit(n, e *model.Interaction, newMessage bool) {
	for i := range n.Edits {
		if n.Edits[i].MessageID == e.MessageID {
			n.Edits = append(n.Edits[:i], n.Edits[i+1:]...)
			break
		}
	}
	edit := model.Interaction{MessageID: e.MessageID, Author: e.Author, Timestamp: e.Timestamp, Body: e.Body}
	if newMessage {
		n.Edits = append(n.Edits, edit)
	} else {
		n.Edits = append([]model.Interaction{edit}, n.Edits...)
	}
	n.Body = n.Edits[len(n.Edits)-1].Body
}

func (g *graph) addReaction(r *model.Interaction) {
	if edits, ok := g.pendingEdits[r.MessageID]; ok {
		delete(g.pendingEdits, r.MessageID)
		for _, e := range edits {
			if e.Body == "" {
				return
			}
		}
	}
	if n, ok := g.nodes[r.ReactTo]; ok && n.Type != model.InteractionInvalid {
		addReactionTo(n, r)
		g.update(n)
		return
	}
	g.pendingReactions[r.ReactTo] = append(removeByID(g.pendingReactions[r.ReactTo], r.MessageID), r)
}

func addReactionTo(n, r *model.Interaction) {
	for _, existing := range n.Reactions {
		if existing.MessageID == r.MessageID {
			return
		}
	}
	n.Reactions = append(n.Reactions, model.Interaction{
		MessageID: r.MessageID,
		Author:    r.Author,
		Timestamp: r.Timestamp,
		Body:      r.Body,
		ReactTo:   r.ReactTo,
	})
}

func (g *graph) removeReaction(target, reactionID string) {
	if n, ok := g.nodes[target]; ok {
		for i := range n.Reactions {
			if n.Reactions[i].MessageID == reactionID {
				n.Reactions = append(n.Reactions[:i], n.Reactions[i+1:]...)
				g.update(n)
				return
			}
		}
	}
	if pending, ok := g.pendingReactions[target]; ok {
		g.pendingReactions[target] = removeByID(pending, reactionID)
	}
}

// remove drops a node from history and the index.
func (g *graph) remove(id string) *model.Interaction {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	delete(g.nodes, id)
	g.release(id)
	if g.placed[id] {
		delete(g.placed, id)
		for i, h := range g.history {
			if h == n {
				g.history = append(g.history[:i], g.history[i+1:]...)
				break
			}
		}
	}
	return n
}

// readMessages marks the trailing run of history read, walking back over
// placeholders, and returns the nodes that changed.
func (g *graph) readMessages() []*model.Interaction {
	var read []*model.Interaction
	for i := len(g.history) - 1; i >= 0; i-- {
		n := g.history[i]
		if !n.Read {
			n.Read = true
			read = append(read, n)
		}
		if n.Type != model.InteractionInvalid {
			break
		}
	}
	if len(read) > 0 {
		g.lastRead = g.history[len(g.history)-1].MessageID
	}
	return read
}

// stale returns held nodes older than threshold that were not reported yet
// and marks them reported.
func (g *graph) stale(threshold time.Duration) []*model.Interaction {
	cutoff := g.now().Add(-threshold)
	var out []*model.Interaction
	for _, h := range g.held {
		if !h.reported && !h.since.After(cutoff) {
			h.reported = true
			out = append(out, h.node)
		}
	}
	return out
}

func (g *graph) heldNodes() []*model.Interaction {
	out := make([]*model.Interaction, 0, len(g.held))
	for _, h := range g.held {
		out = append(out, h.node)
	}
	return out
}

func (g *graph) isLoaded() bool {
	return len(g.nodes) > 0 && len(g.roots) == 0
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func removeValue(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeByID(list []*model.Interaction, id string) []*model.Interaction {
	for i, n := range list {
		if n.MessageID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
