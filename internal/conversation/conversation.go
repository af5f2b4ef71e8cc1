package conversation

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/chirino/swarm-sync/internal/pubsub"
	"github.com/google/uuid"
)

// ErrConversationClosed fails message loads still waiting when the
// conversation is torn down.
var ErrConversationClosed = errors.New("conversation closed")

const (
	PreferenceColor  = "color"
	PreferenceSymbol = "symbol"
	PreferenceMuted  = "ignoreNotifications"
)

// Options tune conversation behavior.
type Options struct {
	// DowngradeStatusOnUpdate forces a node's aggregate status to SENDING on
	// any per-peer update other than SENDING or DISPLAYED.
	DowngradeStatusOnUpdate bool
	// Now is the clock used for call timing and anomaly detection.
	Now func() time.Time
}

// Snapshot is the observable state of a conversation.
type Snapshot struct {
	Account     string                           `json:"account"`
	URI         model.URI                        `json:"uri"`
	Mode        model.Mode                       `json:"mode"`
	Members     []model.Member                   `json:"members"`
	Visible     bool                             `json:"visible"`
	Color       uint32                           `json:"color,omitempty"`
	Symbol      string                           `json:"symbol,omitempty"`
	Muted       bool                             `json:"muted,omitempty"`
	Composing   map[string]model.ComposingStatus `json:"composing,omitempty"`
	ActiveCalls []model.ActiveCall               `json:"activeCalls,omitempty"`
	Conferences []model.Conference               `json:"conferences,omitempty"`
	LastEvent   *model.Interaction               `json:"lastEvent,omitempty"`
	Unread      int                              `json:"unread"`
	Loaded      bool                             `json:"loaded"`
	Request     *model.TrustRequest              `json:"request,omitempty"`
	Profile     map[string]string                `json:"profile,omitempty"`
}

// Conversation owns the history graph and live calls of one conversation.
// All mutation is serialized by a single mutex; snapshots are published to
// subscribers before the mutex is released so they observe mutation order.
type Conversation struct {
	account string
	uri     model.URI
	user    model.URI
	opts    Options

	mu          sync.Mutex
	mode        model.Mode
	members     []model.Member
	request     *model.TrustRequest
	profile     map[string]string
	visible     bool
	color       uint32
	symbol      string
	muted       bool
	composing   map[string]model.ComposingStatus
	activeCalls []model.ActiveCall

	graph    *graph
	timeline *timeline
	calls    *reconciler
	outbox   []*model.Interaction
	waiters  map[string][]chan loadResult
	closed   bool
	changes  []change

	elements *pubsub.Topic[model.ElementEvent]
	state    *pubsub.Topic[Snapshot]
}

type change struct {
	action model.ElementAction
	node   *model.Interaction
}

type loadResult struct {
	node model.Interaction
	err  error
}

// New creates a conversation. A swarm uri selects causal history; any other
// uri is a legacy one-to-one conversation with that peer, ordered by time.
func New(account string, uri, user model.URI, mode model.Mode, opts Options) *Conversation {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Conversation{
		account:   account,
		uri:       uri,
		user:      user,
		opts:      opts,
		mode:      mode,
		composing: map[string]model.ComposingStatus{},
		waiters:   map[string][]chan loadResult{},
		elements:  pubsub.NewTopic[model.ElementEvent](),
		state:     pubsub.NewTopic[Snapshot](),
	}
	c.calls = newReconciler(opts.Now)
	if uri.IsSwarm() {
		c.graph = newGraph(c.isLocal, c.isVisible, opts.Now, c.record)
	} else {
		if mode != model.ModeRequest {
			c.mode = model.ModeLegacy
		}
		c.members = []model.Member{{URI: uri, Role: model.RoleMember}}
		c.timeline = newTimeline(c.isVisible, c.record)
	}
	return c
}

func (c *Conversation) Account() string { return c.account }
func (c *Conversation) URI() model.URI  { return c.uri }
func (c *Conversation) IsSwarm() bool   { return c.graph != nil }

func (c *Conversation) isVisible() bool { return c.visible }

func (c *Conversation) isLocal(peer string) bool {
	u := model.ParseURI(peer)
	if u.ID == c.user.ID {
		return true
	}
	for _, m := range c.members {
		if m.IsUser && m.URI.ID == u.ID {
			return true
		}
	}
	return false
}

func (c *Conversation) record(action model.ElementAction, n *model.Interaction) {
	c.changes = append(c.changes, change{action: action, node: n})
}

// flush publishes queued history changes and, if stateChanged or history
// changed, a new snapshot. Called with c.mu held.
func (c *Conversation) flush(stateChanged bool) {
	if len(c.changes) > 0 {
		for _, ch := range c.changes {
			c.elements.Publish(model.ElementEvent{Action: ch.action, Interaction: ch.node.Clone()})
		}
		c.changes = nil
		stateChanged = true
	}
	c.resolveWaiters()
	if stateChanged {
		c.state.Publish(c.snapshotLocked())
	}
}

func (c *Conversation) lock() func() {
	c.mu.Lock()
	return c.mu.Unlock
}

// SubscribeElements streams history changes.
func (c *Conversation) SubscribeElements() (<-chan model.ElementEvent, func()) {
	return c.elements.Subscribe(false)
}

// SubscribeState streams snapshots, starting with the latest one.
func (c *Conversation) SubscribeState() (<-chan Snapshot, func()) {
	return c.state.Subscribe(true)
}

// AddInteraction integrates an inbound node. It reports whether the node
// became a new leaf (swarm) or was added (legacy).
func (c *Conversation) AddInteraction(n model.Interaction, newMessage bool) bool {
	_, added := c.Receive(n, newMessage)
	return added
}

// Receive is AddInteraction returning the node as held. A legacy node
// delivered without an id comes back carrying the sequence id it was
// assigned, or the one of the node it duplicates.
func (c *Conversation) Receive(n model.Interaction, newMessage bool) (model.Interaction, bool) {
	defer c.lock()()
	if c.closed {
		return n, false
	}
	node := n
	node.Account = c.account
	node.ConversationURI = c.uri.String()
	if node.StatusMap != nil {
		node.StatusMap = cloneStatusMap(node.StatusMap)
	}
	c.settleOutbox(&node)

	if c.graph != nil {
		if node.MessageID == "" {
			log.Warn("Swarm interaction without message id ignored", "conversation", c.uri)
			return n, false
		}
		held := node.Clone()
		added := c.graph.add(&node, newMessage)
		c.flush(false)
		return held, added
	}
	before := len(c.timeline.history)
	held := c.timeline.receive(&node).Clone()
	added := len(c.timeline.history) > before
	c.flush(false)
	return held, added
}

// SetHistory seeds the conversation with previously persisted nodes.
func (c *Conversation) SetHistory(nodes []model.Interaction) {
	defer c.lock()()
	if c.closed {
		return
	}
	for i := range nodes {
		node := nodes[i]
		node.Account = c.account
		node.ConversationURI = c.uri.String()
		if c.graph != nil {
			if node.MessageID != "" {
				c.graph.add(&node, false)
			}
		} else {
			c.timeline.receive(&node)
		}
	}
	c.flush(false)
}

// UpdateStatus applies a per-peer status update. Unknown ids are logged and
// ignored; the return value reports whether the node was found.
func (c *Conversation) UpdateStatus(messageID, peer string, st model.InteractionStatus) bool {
	defer c.lock()()
	peer = model.ParseURI(peer).ID
	found := false
	if c.graph != nil {
		found = c.graph.updateStatus(messageID, peer, st, c.opts.DowngradeStatusOnUpdate)
	} else {
		found = c.timeline.updateStatus(messageID, peer, st)
	}
	if !found {
		log.Warn("Status update for unknown message ignored", "conversation", c.uri, "messageId", messageID, "peer", peer, "status", st)
		metrics.UnknownReference("message")
		return false
	}
	c.flush(false)
	return true
}

// UpdateTransfer sets the status of a file transfer node.
func (c *Conversation) UpdateTransfer(transferID string, st model.InteractionStatus) bool {
	defer c.lock()()
	for _, n := range c.historyLocked() {
		if n.Type == model.InteractionDataTransfer && n.TransferID == transferID {
			if n.Status != st {
				n.Status = st
				c.record(model.ElementUpdate, n)
				c.flush(false)
			}
			return true
		}
	}
	log.Warn("Transfer update for unknown transfer ignored", "conversation", c.uri, "transferId", transferID)
	metrics.UnknownReference("transfer")
	return false
}

// RemoveInteraction deletes a node from history.
func (c *Conversation) RemoveInteraction(messageID string) bool {
	defer c.lock()()
	var n *model.Interaction
	if c.graph != nil {
		n = c.graph.remove(messageID)
	} else {
		n = c.timeline.remove(messageID)
	}
	if n == nil {
		return false
	}
	c.record(model.ElementRemove, n)
	c.flush(false)
	return true
}

// ClearHistory drops every node. Unless del is set, a legacy conversation
// keeps a contact event for its peer.
func (c *Conversation) ClearHistory(del bool) {
	defer c.lock()()
	for _, n := range c.historyLocked() {
		c.record(model.ElementRemove, n)
	}
	for _, n := range c.outbox {
		c.record(model.ElementRemove, n)
	}
	if c.graph != nil {
		c.graph.reset()
	} else {
		c.timeline.reset()
		if !del && len(c.members) == 1 {
			c.timeline.add(&model.Interaction{
				Type:            model.InteractionContact,
				Account:         c.account,
				ConversationURI: c.uri.String(),
				Author:          c.members[0].URI.String(),
				Timestamp:       c.opts.Now().UnixMilli(),
				Status:          model.StatusSuccess,
			})
		}
	}
	c.outbox = nil
	c.flush(true)
}

// AddContactEvent records a trust change with peer in a legacy history.
func (c *Conversation) AddContactEvent(peer model.URI, body string) {
	defer c.lock()()
	if c.graph != nil {
		return
	}
	c.timeline.add(&model.Interaction{
		Type:            model.InteractionContact,
		Account:         c.account,
		ConversationURI: c.uri.String(),
		Author:          peer.String(),
		Body:            body,
		Incoming:        true,
		Timestamp:       c.opts.Now().UnixMilli(),
		Status:          model.StatusSuccess,
	})
	c.flush(false)
}

// SetLastRead fast-forwards the read cursor, possibly before the node exists.
func (c *Conversation) SetLastRead(messageID string) {
	defer c.lock()()
	if c.graph != nil {
		c.graph.setLastRead(messageID)
	} else if n := c.timeline.lookup(messageID); n != nil && !n.Read {
		n.Read = true
		c.record(model.ElementUpdate, n)
	}
	c.flush(true)
}

// SetLastNotified fast-forwards the notified cursor.
func (c *Conversation) SetLastNotified(messageID string) {
	defer c.lock()()
	if c.graph != nil {
		c.graph.setLastNotified(messageID)
	} else if n := c.timeline.lookup(messageID); n != nil && !n.Notified {
		n.Notified = true
		c.record(model.ElementUpdate, n)
	}
	c.flush(false)
}

// ReadMessages marks the newest unread run read and returns it.
func (c *Conversation) ReadMessages() []model.Interaction {
	defer c.lock()()
	var read []*model.Interaction
	if c.graph != nil {
		read = c.graph.readMessages()
	} else {
		read = c.timeline.readMessages()
	}
	out := make([]model.Interaction, 0, len(read))
	for _, n := range read {
		c.record(model.ElementUpdate, n)
		out = append(out, n.Clone())
	}
	c.flush(len(read) > 0)
	return out
}

// UnreadTextMessages returns the newest run of text messages neither read
// nor notified, oldest first.
func (c *Conversation) UnreadTextMessages() []model.Interaction {
	defer c.lock()()
	var out []model.Interaction
	history := c.historyLocked()
	for i := len(history) - 1; i >= 0; i-- {
		n := history[i]
		if n.Type != model.InteractionText {
			continue
		}
		if n.Read || n.Notified {
			break
		}
		out = append(out, n.Clone())
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LoadMessage returns the node with the given id, waiting for it to arrive
// if needed. load is invoked once per missing id to request it from the
// source. Waiters fail with ErrConversationClosed when the conversation is
// closed.
func (c *Conversation) LoadMessage(ctx context.Context, messageID string, load func(messageID string)) (model.Interaction, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Interaction{}, ErrConversationClosed
	}
	if n := c.lookupLocked(messageID); n != nil {
		out := n.Clone()
		c.mu.Unlock()
		return out, nil
	}
	ch := make(chan loadResult, 1)
	first := len(c.waiters[messageID]) == 0
	c.waiters[messageID] = append(c.waiters[messageID], ch)
	c.mu.Unlock()

	if first && load != nil {
		load(messageID)
	}

	select {
	case res := <-ch:
		return res.node, res.err
	case <-ctx.Done():
		c.mu.Lock()
		list := c.waiters[messageID]
		for i, w := range list {
			if w == ch {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(c.waiters, messageID)
		} else {
			c.waiters[messageID] = list
		}
		c.mu.Unlock()
		return model.Interaction{}, ctx.Err()
	}
}

func (c *Conversation) resolveWaiters() {
	for id, list := range c.waiters {
		n := c.lookupLocked(id)
		if n == nil {
			continue
		}
		for _, ch := range list {
			ch <- loadResult{node: n.Clone()}
		}
		delete(c.waiters, id)
	}
}

func (c *Conversation) lookupLocked(messageID string) *model.Interaction {
	if c.graph != nil {
		return c.graph.nodes[messageID]
	}
	return c.timeline.lookup(messageID)
}

// Close fails pending loads and ends all subscriptions.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, list := range c.waiters {
		for _, ch := range list {
			ch <- loadResult{err: ErrConversationClosed}
		}
		delete(c.waiters, id)
	}
	c.elements.Close()
	c.state.Close()
}

// Send queues a locally authored text message. The returned node stays in
// the outbox with status SENDING until the same message comes back from the
// source or the send is marked failed.
func (c *Conversation) Send(body string) model.Interaction {
	defer c.lock()()
	n := &model.Interaction{
		MessageID:       "local:" + uuid.NewString(),
		Account:         c.account,
		ConversationURI: c.uri.String(),
		Type:            model.InteractionText,
		Timestamp:       c.opts.Now().UnixMilli(),
		Author:          c.user.String(),
		Body:            body,
		Status:          model.StatusSending,
		Read:            true,
	}
	if c.graph != nil {
		if last := c.lastPlacedLocked(); last != nil {
			n.ParentID = last.MessageID
		}
	}
	c.outbox = append(c.outbox, n)
	c.record(model.ElementAdd, n)
	c.flush(false)
	return n.Clone()
}

// MarkSendFailed flags an outbox node as failed. The node stays visible.
func (c *Conversation) MarkSendFailed(localID string) (model.Interaction, bool) {
	defer c.lock()()
	for _, n := range c.outbox {
		if n.MessageID == localID {
			n.Status = model.StatusFailure
			c.record(model.ElementUpdate, n)
			c.flush(false)
			return n.Clone(), true
		}
	}
	return model.Interaction{}, false
}

// settleOutbox drops the optimistic copy of an echoed local message.
func (c *Conversation) settleOutbox(n *model.Interaction) {
	local := c.isLocal(n.Author) || (n.Author == "" && !n.Incoming)
	if n.Type != model.InteractionText || !local {
		return
	}
	for i, o := range c.outbox {
		if o.Status == model.StatusSending && o.Body == n.Body {
			c.outbox = append(c.outbox[:i], c.outbox[i+1:]...)
			c.record(model.ElementRemove, o)
			return
		}
	}
}

func (c *Conversation) lastPlacedLocked() *model.Interaction {
	if c.graph == nil || len(c.graph.history) == 0 {
		return nil
	}
	return c.graph.history[len(c.graph.history)-1]
}

func (c *Conversation) historyLocked() []*model.Interaction {
	if c.graph != nil {
		return c.graph.history
	}
	return c.timeline.history
}

// History returns the linear history followed by outbox nodes.
func (c *Conversation) History() []model.Interaction {
	defer c.lock()()
	h := c.historyLocked()
	out := make([]model.Interaction, 0, len(h)+len(c.outbox))
	for _, n := range h {
		out = append(out, n.Clone())
	}
	for _, n := range c.outbox {
		out = append(out, n.Clone())
	}
	return out
}

// Held returns swarm nodes waiting for a causal ancestor.
func (c *Conversation) Held() []model.Interaction {
	defer c.lock()()
	if c.graph == nil {
		return nil
	}
	held := c.graph.heldNodes()
	sort.Slice(held, func(i, j int) bool { return held[i].MessageID < held[j].MessageID })
	out := make([]model.Interaction, 0, len(held))
	for _, n := range held {
		out = append(out, n.Clone())
	}
	return out
}

// StaleNodes returns held nodes older than threshold not reported before.
func (c *Conversation) StaleNodes(threshold time.Duration) []model.Interaction {
	defer c.lock()()
	if c.graph == nil {
		return nil
	}
	var out []model.Interaction
	for _, n := range c.graph.stale(threshold) {
		out = append(out, n.Clone())
	}
	return out
}

// Message returns a known node by id.
func (c *Conversation) Message(messageID string) (model.Interaction, bool) {
	defer c.lock()()
	if n := c.lookupLocked(messageID); n != nil {
		return n.Clone(), true
	}
	return model.Interaction{}, false
}

// LastDisplayed returns the displayed cursor of a peer.
func (c *Conversation) LastDisplayed(peer string) string {
	defer c.lock()()
	if c.graph != nil {
		return c.graph.lastDisplayed[model.ParseURI(peer).ID]
	}
	if c.timeline.lastDisplayed != nil {
		return strconv.FormatInt(c.timeline.lastDisplayed.ID, 10)
	}
	return ""
}

// LastSent returns the id of the newest node confirmed sent.
func (c *Conversation) LastSent() string {
	defer c.lock()()
	if c.graph != nil {
		return c.graph.lastSent
	}
	return ""
}

// LastRead returns the read cursor.
func (c *Conversation) LastRead() string {
	defer c.lock()()
	if c.graph != nil {
		return c.graph.lastRead
	}
	return ""
}

// LastEvent returns the newest non-placeholder node of the history.
func (c *Conversation) LastEvent() (model.Interaction, bool) {
	defer c.lock()()
	if n := c.lastEventLocked(); n != nil {
		return n.Clone(), true
	}
	return model.Interaction{}, false
}

func (c *Conversation) lastEventLocked() *model.Interaction {
	if c.graph != nil {
		return c.graph.lastEvent()
	}
	return c.timeline.lastEvent()
}

// IsLoaded reports whether the history reached its root.
func (c *Conversation) IsLoaded() bool {
	defer c.lock()()
	if c.graph != nil {
		return c.graph.isLoaded()
	}
	return true
}

// Mode returns the membership mode.
func (c *Conversation) Mode() model.Mode {
	defer c.lock()()
	return c.mode
}

func (c *Conversation) SetMode(mode model.Mode) {
	defer c.lock()()
	if c.mode == mode {
		return
	}
	if c.graph == nil && mode != model.ModeLegacy && mode != model.ModeRequest {
		return
	}
	c.mode = mode
	c.flush(true)
}

// Members returns the roster.
func (c *Conversation) Members() []model.Member {
	defer c.lock()()
	return append([]model.Member(nil), c.members...)
}

// SetMembers replaces the roster. Entries for the local user are flagged.
func (c *Conversation) SetMembers(members []model.Member) {
	defer c.lock()()
	c.members = c.members[:0]
	for _, m := range members {
		m.IsUser = m.IsUser || m.URI.ID == c.user.ID
		c.members = append(c.members, m)
	}
	c.flush(true)
}

// UpdateMember adds or changes one roster entry.
func (c *Conversation) UpdateMember(uri model.URI, role model.MemberRole) {
	defer c.lock()()
	for i := range c.members {
		if c.members[i].URI.ID == uri.ID {
			if c.members[i].Role == role {
				return
			}
			c.members[i].Role = role
			c.flush(true)
			return
		}
	}
	c.members = append(c.members, model.Member{URI: uri, Role: role, IsUser: uri.ID == c.user.ID})
	c.flush(true)
}

// Peer returns the other party of a one-to-one conversation.
func (c *Conversation) Peer() (model.URI, bool) {
	defer c.lock()()
	return c.peerLocked()
}

func (c *Conversation) peerLocked() (model.URI, bool) {
	if len(c.members) == 1 {
		return c.members[0].URI, true
	}
	if c.graph != nil && len(c.members) > 2 {
		return model.URI{}, false
	}
	for _, m := range c.members {
		if !m.IsUser {
			return m.URI, true
		}
	}
	return model.URI{}, false
}

// IsGroup reports a swarm with more than two members.
func (c *Conversation) IsGroup() bool {
	defer c.lock()()
	return c.graph != nil && len(c.members) > 2
}

// IsSwarmGroup reports a swarm whose mode is not one-to-one.
func (c *Conversation) IsSwarmGroup() bool {
	defer c.lock()()
	return c.graph != nil && c.mode != model.ModeOneToOne
}

// Role returns a member's role. Roles only carry meaning for swarm groups.
func (c *Conversation) Role(uri model.URI) (model.MemberRole, bool) {
	defer c.lock()()
	if c.graph == nil || c.mode == model.ModeOneToOne {
		return "", false
	}
	for _, m := range c.members {
		if m.URI.ID == uri.ID {
			return m.Role, true
		}
	}
	return "", false
}

func (c *Conversation) SetVisible(visible bool) {
	defer c.lock()()
	if c.visible == visible {
		return
	}
	c.visible = visible
	c.flush(true)
}

// SetRequest attaches the trust request this conversation represents.
func (c *Conversation) SetRequest(req *model.TrustRequest) {
	defer c.lock()()
	c.request = req
	if req != nil && req.Profile != nil {
		c.profile = req.Profile
	}
	c.flush(true)
}

func (c *Conversation) Request() *model.TrustRequest {
	defer c.lock()()
	return c.request
}

// UpdatePreferences applies per-conversation preferences. Colors are given
// as "#RRGGBB" and stored opaque as 0xFFRRGGBB.
func (c *Conversation) UpdatePreferences(prefs map[string]string) {
	defer c.lock()()
	c.color = 0
	if v, ok := prefs[PreferenceColor]; ok {
		if rgb, err := strconv.ParseUint(strings.TrimPrefix(v, "#"), 16, 32); err == nil {
			c.color = uint32(rgb) | 0xFF000000
		} else {
			log.Warn("Invalid conversation color", "conversation", c.uri, "color", v)
		}
	}
	c.symbol = prefs[PreferenceSymbol]
	c.muted, _ = strconv.ParseBool(prefs[PreferenceMuted])
	c.flush(true)
}

// SetComposing records a peer's typing state.
func (c *Conversation) SetComposing(peer model.URI, status model.ComposingStatus) {
	defer c.lock()()
	key := peer.String()
	if status == model.ComposingIdle {
		if _, ok := c.composing[key]; !ok {
			return
		}
		delete(c.composing, key)
	} else {
		if c.composing[key] == status {
			return
		}
		c.composing[key] = status
	}
	c.flush(true)
}

// SetActiveCalls replaces the calls advertised by the swarm.
func (c *Conversation) SetActiveCalls(calls []model.ActiveCall) {
	defer c.lock()()
	c.activeCalls = append([]model.ActiveCall(nil), calls...)
	c.flush(true)
}

// CallStateChanged applies a call leg state change. When the last leg of a
// conference ends, a call node is committed to the history.
func (c *Conversation) CallStateChanged(callID string, status model.CallStatus, details model.CallDetails) bool {
	defer c.lock()()
	commit, changed := c.calls.callStateChanged(callID, status, details)
	if commit != nil {
		c.commitCallLocked(commit)
	}
	if changed {
		c.flush(true)
	}
	return changed
}

func (c *Conversation) commitCallLocked(n *model.Interaction) {
	n.Account = c.account
	n.ConversationURI = c.uri.String()
	if !n.Incoming || n.Author == "" {
		n.Author = c.user.String()
	}
	if c.graph == nil {
		c.timeline.add(n)
		return
	}
	// Swarm calls are recorded as a start marker followed by an end marker
	// and merged by the graph like any other call delivered by the source.
	start := *n
	start.MessageID = uuid.NewString()
	start.Duration = 0
	start.EndTimestamp = 0
	if last := c.lastPlacedLocked(); last != nil {
		start.ParentID = last.MessageID
	}
	c.graph.add(&start, true)
	if n.Duration == 0 {
		return
	}
	end := *n
	end.MessageID = uuid.NewString()
	end.ParentID = start.MessageID
	end.Timestamp = n.EndTimestamp
	c.graph.add(&end, true)
}

func (c *Conversation) ConferenceCreated(confID string, participants []string) bool {
	defer c.lock()()
	changed := c.calls.conferenceCreated(confID, participants)
	if changed {
		c.flush(true)
	}
	return changed
}

func (c *Conversation) ConferenceChanged(confID string, participants []string, state string) bool {
	defer c.lock()()
	changed := c.calls.conferenceChanged(confID, participants, state)
	if changed {
		c.flush(true)
	}
	return changed
}

func (c *Conversation) ConferenceRemoved(confID string) bool {
	defer c.lock()()
	changed := c.calls.conferenceRemoved(confID)
	if changed {
		c.flush(true)
	}
	return changed
}

func (c *Conversation) ConferenceInfoUpdated(confID string, info []model.ParticipantInfo) bool {
	defer c.lock()()
	changed := c.calls.conferenceInfo(confID, info, c.isLocal)
	if changed {
		c.flush(true)
	}
	return changed
}

func (c *Conversation) RemoteRecordingChanged(confID string, peer model.URI, recording bool) bool {
	defer c.lock()()
	changed := c.calls.remoteRecording(confID, peer.String(), recording)
	if changed {
		c.flush(true)
	}
	return changed
}

func (c *Conversation) MediaChanged(callID string, media []model.Media) bool {
	defer c.lock()()
	changed := c.calls.mediaChanged(callID, media)
	if changed {
		c.flush(true)
	}
	return changed
}

// ReleaseCall hands a live leg over to another conversation.
func (c *Conversation) ReleaseCall(callID string) (model.CallLeg, bool) {
	defer c.lock()()
	leg, ok := c.calls.release(callID)
	if !ok {
		return model.CallLeg{}, false
	}
	c.flush(true)
	return *leg, true
}

// AdoptCall takes over a leg released by another conversation.
func (c *Conversation) AdoptCall(leg model.CallLeg) {
	defer c.lock()()
	l := leg.Clone()
	c.calls.adopt(&l)
	c.flush(true)
}

func (c *Conversation) HasCall(callID string) bool {
	defer c.lock()()
	return c.calls.hasCall(callID)
}

// Conferences returns the live conferences.
func (c *Conversation) Conferences() []model.Conference {
	defer c.lock()()
	return c.calls.snapshot()
}

// Summary returns the current snapshot.
func (c *Conversation) Summary() Snapshot {
	defer c.lock()()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() Snapshot {
	s := Snapshot{
		Account:     c.account,
		URI:         c.uri,
		Mode:        c.mode,
		Members:     append([]model.Member(nil), c.members...),
		Visible:     c.visible,
		Color:       c.color,
		Symbol:      c.symbol,
		Muted:       c.muted,
		ActiveCalls: append([]model.ActiveCall(nil), c.activeCalls...),
		Conferences: c.calls.snapshot(),
		Request:     c.request,
		Profile:     c.profile,
		Loaded:      c.graph == nil || c.graph.isLoaded(),
	}
	if len(c.composing) > 0 {
		s.Composing = make(map[string]model.ComposingStatus, len(c.composing))
		for k, v := range c.composing {
			s.Composing[k] = v
		}
	}
	if last := c.lastEventLocked(); last != nil {
		cl := last.Clone()
		s.LastEvent = &cl
	}
	history := c.historyLocked()
	for i := len(history) - 1; i >= 0; i-- {
		n := history[i]
		if n.Type != model.InteractionText {
			continue
		}
		if n.Read {
			break
		}
		s.Unread++
	}
	return s
}

func cloneStatusMap(m map[string]model.InteractionStatus) map[string]model.InteractionStatus {
	out := make(map[string]model.InteractionStatus, len(m))
	for k, v := range m {
		out[model.ParseURI(k).ID] = v
	}
	return out
}
