// Package account keeps the conversations, trust requests and contacts of one
// identity, and routes call legs to the conversation that owns them.
//
// Lock order: the account mutex is never held while a conversation method is
// called. Conversations are created under the account lock (a constructor
// takes no lock) but configured only after it is released.
package account

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/conversation"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/chirino/swarm-sync/internal/pubsub"
)

// Snapshot is the observable state of an account.
type Snapshot struct {
	Account       string                  `json:"account"`
	Ready         bool                    `json:"ready"`
	Conversations []conversation.Snapshot `json:"conversations"`
	Pending       []conversation.Snapshot `json:"pending"`
	Contacts      []model.Contact         `json:"contacts"`
}

// Account is the registry of one identity.
//
// conversations and pending are keyed by conversation uri and never share a
// key. cache holds legacy conversations looked up for peers that are not
// contacts; they move to conversations once they become relevant.
type Account struct {
	id   string
	user model.URI
	opts conversation.Options

	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
	pending       map[string]*conversation.Conversation
	cache         map[string]*conversation.Conversation
	swarms        map[string]*conversation.Conversation // swarm id
	requests      map[string]model.URI                  // pending key -> requester
	contacts      map[string]*model.Contact             // peer id
	calls         map[string]*conversation.Conversation // call id
	ready         bool
	closed        bool
	seq           uint64

	pubMu     sync.Mutex
	published uint64
	state     *pubsub.Topic[Snapshot]
}

// New creates an empty registry for the identity user.
func New(id string, user model.URI, opts conversation.Options) *Account {
	return &Account{
		id:            id,
		user:          user,
		opts:          opts,
		conversations: map[string]*conversation.Conversation{},
		pending:       map[string]*conversation.Conversation{},
		cache:         map[string]*conversation.Conversation{},
		swarms:        map[string]*conversation.Conversation{},
		requests:      map[string]model.URI{},
		contacts:      map[string]*model.Contact{},
		calls:         map[string]*conversation.Conversation{},
		state:         pubsub.NewTopic[Snapshot](),
	}
}

func (a *Account) ID() string      { return a.id }
func (a *Account) User() model.URI { return a.user }

func (a *Account) newConversation(uri model.URI, mode model.Mode) *conversation.Conversation {
	return conversation.New(a.id, uri, a.user, mode, a.opts)
}

func (a *Account) lookupLocked(uri model.URI) *conversation.Conversation {
	key := uri.String()
	if c := a.conversations[key]; c != nil {
		return c
	}
	if c := a.pending[key]; c != nil {
		return c
	}
	if uri.IsSwarm() {
		return a.swarms[uri.ID]
	}
	return a.cache[key]
}

func (a *Account) contactLocked(uri model.URI) *model.Contact {
	ct, ok := a.contacts[uri.ID]
	if !ok {
		ct = &model.Contact{URI: uri, ConversationURI: uri, Status: model.ContactNoRequest}
		a.contacts[uri.ID] = ct
	}
	return ct
}

// GetByURI returns a known conversation.
func (a *Account) GetByURI(uri model.URI) (*conversation.Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.lookupLocked(uri)
	return c, c != nil
}

// GetByKey returns the conversation for uri, creating a cached one if none
// is known.
func (a *Account) GetByKey(uri model.URI) *conversation.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getByKeyLocked(uri)
}

func (a *Account) getByKeyLocked(uri model.URI) *conversation.Conversation {
	if c := a.lookupLocked(uri); c != nil {
		return c
	}
	if uri.IsSwarm() {
		c := a.newConversation(uri, model.ModeSyncing)
		a.swarms[uri.ID] = c
		return c
	}
	c := a.newConversation(uri, model.ModeLegacy)
	a.cache[uri.String()] = c
	return c
}

// ConversationForPeer returns the conversation currently representing peer:
// the one its contact points at, or its legacy conversation.
func (a *Account) ConversationForPeer(peer model.URI) *conversation.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ct := a.contacts[peer.ID]; ct != nil && !ct.ConversationURI.IsEmpty() {
		if c := a.lookupLocked(ct.ConversationURI); c != nil {
			return c
		}
	}
	return a.getByKeyLocked(model.URI{Scheme: model.SchemeJami, ID: peer.ID})
}

// NewSwarm returns the swarm conversation with the given id, creating it if
// needed. A new swarm is not active until ConversationStarted.
func (a *Account) NewSwarm(id string, mode model.Mode) *conversation.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c := a.swarms[id]; c != nil {
		return c
	}
	c := a.newConversation(model.SwarmURI(id), mode)
	a.swarms[id] = c
	return c
}

func (a *Account) GetSwarm(id string) (*conversation.Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.swarms[id]
	return c, ok
}

// RemoveSwarm forgets a swarm conversation. Contacts that pointed at it are
// pointed back at their legacy conversation.
func (a *Account) RemoveSwarm(id string) bool {
	uri := model.SwarmURI(id)
	key := uri.String()
	a.mu.Lock()
	c, ok := a.swarms[id]
	if !ok {
		c, ok = a.conversations[key]
	}
	if !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.swarms, id)
	delete(a.conversations, key)
	delete(a.pending, key)
	delete(a.requests, key)
	for _, ct := range a.contacts {
		if ct.ConversationURI == uri {
			ct.ConversationURI = ct.URI
		}
	}
	a.forgetCallsLocked(c)
	a.mu.Unlock()

	c.Close()
	a.Publish()
	return true
}

// ConversationStarted makes conv active. A one-to-one swarm replaces the
// legacy conversation of its peer; live calls of the replaced conversation
// move to conv.
func (a *Account) ConversationStarted(conv *conversation.Conversation) {
	uri := conv.URI()
	var peer model.URI
	oneToOne := false
	if conv.IsSwarm() && conv.Mode() == model.ModeOneToOne {
		peer, oneToOne = conv.Peer()
	}

	var replaced []*conversation.Conversation
	a.mu.Lock()
	key := uri.String()
	delete(a.pending, key)
	delete(a.requests, key)
	delete(a.cache, key)
	a.conversations[key] = conv
	if conv.IsSwarm() {
		a.swarms[uri.ID] = conv
	}
	if oneToOne {
		ct := a.contactLocked(peer)
		ct.ConversationURI = uri
		legacyKey := model.URI{Scheme: model.SchemeJami, ID: peer.ID}.String()
		for _, m := range []map[string]*conversation.Conversation{a.conversations, a.pending, a.cache} {
			if old, ok := m[legacyKey]; ok && old != conv {
				delete(m, legacyKey)
				replaced = append(replaced, old)
			}
		}
		delete(a.requests, legacyKey)
	}
	a.mu.Unlock()

	for _, old := range replaced {
		a.moveCalls(old, conv)
		old.Close()
	}
	log.Info("Conversation started", "account", a.id, "conversation", uri, "mode", conv.Mode())
	a.Publish()
}

func (a *Account) moveCalls(from, to *conversation.Conversation) {
	for _, conf := range from.Conferences() {
		for _, leg := range conf.Legs {
			if l, ok := from.ReleaseCall(leg.ID); ok {
				to.AdoptCall(l)
				a.RouteCall(l.ID, to)
			}
		}
	}
}

// AddRequest stores an incoming trust request as a pending conversation.
// A request for a conversation that is already active is ignored. It
// returns the pending conversation and whether it was newly added.
func (a *Account) AddRequest(req model.TrustRequest) (*conversation.Conversation, bool) {
	uri := req.ConversationURI
	if uri.IsEmpty() {
		uri = model.URI{Scheme: model.SchemeJami, ID: req.From.ID}
	}
	key := uri.String()

	a.mu.Lock()
	if c, ok := a.conversations[key]; ok {
		a.mu.Unlock()
		return c, false
	}
	if c, ok := a.pending[key]; ok {
		a.mu.Unlock()
		c.SetRequest(&req)
		a.Publish()
		return c, false
	}
	c := a.cache[key]
	delete(a.cache, key)
	if c == nil && uri.IsSwarm() {
		c = a.swarms[uri.ID]
	}
	if c == nil {
		c = a.newConversation(uri, model.ModeRequest)
		if uri.IsSwarm() {
			a.swarms[uri.ID] = c
		}
	}
	a.pending[key] = c
	a.requests[key] = req.From
	a.contactLocked(req.From).ConversationURI = uri
	a.mu.Unlock()

	c.SetMode(model.ModeRequest)
	c.SetRequest(&req)
	if uri.IsSwarm() {
		c.UpdateMember(req.From, model.RoleMember)
	}
	log.Info("Trust request added", "account", a.id, "conversation", uri, "from", req.From)
	a.Publish()
	return c, true
}

// RemoveRequest discards a pending request. The requester's contact is
// pointed back at its own uri only if it still pointed at this request.
func (a *Account) RemoveRequest(uri model.URI) bool {
	key := uri.String()
	a.mu.Lock()
	c, ok := a.pending[key]
	if !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.pending, key)
	from := a.requests[key]
	delete(a.requests, key)
	if ct := a.contacts[from.ID]; ct != nil && ct.ConversationURI == uri {
		ct.ConversationURI = ct.URI
	}
	if uri.IsSwarm() && a.swarms[uri.ID] == c {
		delete(a.swarms, uri.ID)
	}
	a.mu.Unlock()

	c.Close()
	a.Publish()
	return true
}

// ContactAdded records a confirmed contact. A pending request from that peer
// is promoted to an active conversation; a peer without a swarm gets an
// active legacy conversation.
func (a *Account) ContactAdded(contact model.Contact) {
	peer := model.URI{Scheme: model.SchemeJami, ID: contact.URI.ID}

	var promoted, legacy, dropped *conversation.Conversation
	a.mu.Lock()
	ct := a.contactLocked(peer)
	ct.Status = contact.Status
	if ct.Status == "" || ct.Status == model.ContactNoRequest {
		ct.Status = model.ContactConfirmed
	}
	if contact.DisplayName != "" {
		ct.DisplayName = contact.DisplayName
	}
	if contact.Username != "" {
		ct.Username = contact.Username
	}
	if contact.AddedAt != 0 {
		ct.AddedAt = contact.AddedAt
	}

	key := ""
	if !contact.ConversationURI.IsEmpty() {
		if _, ok := a.pending[contact.ConversationURI.String()]; ok {
			key = contact.ConversationURI.String()
		}
	}
	if key == "" {
		for k, from := range a.requests {
			if from.ID == peer.ID {
				key = k
				break
			}
		}
	}

	switch {
	case key != "":
		c := a.pending[key]
		delete(a.pending, key)
		delete(a.requests, key)
		if active, exists := a.conversations[key]; !exists {
			a.conversations[key] = c
			promoted = c
		} else if active != c {
			if u := c.URI(); u.IsSwarm() && a.swarms[u.ID] == c {
				a.swarms[u.ID] = active
			}
			a.forgetCallsLocked(c)
			dropped = c
		}
		ct.ConversationURI = c.URI()
	case contact.ConversationURI.IsSwarm():
		ct.ConversationURI = contact.ConversationURI
	case ct.ConversationURI.IsSwarm() && a.conversations[ct.ConversationURI.String()] != nil:
		// already represented by an active swarm
	default:
		legacyKey := peer.String()
		c := a.conversations[legacyKey]
		if c == nil {
			c = a.cache[legacyKey]
			delete(a.cache, legacyKey)
			if c == nil {
				c = a.newConversation(peer, model.ModeLegacy)
			}
			a.conversations[legacyKey] = c
		}
		ct.ConversationURI = peer
		legacy = c
	}
	a.mu.Unlock()

	if dropped != nil {
		dropped.Close()
	}

	if promoted != nil {
		promoted.SetRequest(nil)
		if promoted.IsSwarm() {
			promoted.SetMode(model.ModeSyncing)
		} else {
			promoted.SetMode(model.ModeLegacy)
			legacy = promoted
		}
	}
	if legacy != nil {
		legacy.AddContactEvent(peer, "added")
	}
	log.Info("Contact added", "account", a.id, "contact", peer, "status", contact.Status)
	a.Publish()
}

// ContactRemoved forgets a contact, or keeps it flagged when banned. Its
// legacy conversation and pending requests are dropped.
func (a *Account) ContactRemoved(uri model.URI, banned bool) {
	peer := model.URI{Scheme: model.SchemeJami, ID: uri.ID}
	key := peer.String()

	var dropped []*conversation.Conversation
	a.mu.Lock()
	if banned {
		a.contactLocked(peer).Status = model.ContactBanned
	} else {
		delete(a.contacts, peer.ID)
	}
	if c, ok := a.conversations[key]; ok {
		delete(a.conversations, key)
		a.cache[key] = c
	}
	for k, from := range a.requests {
		if from.ID != peer.ID {
			continue
		}
		if c, ok := a.pending[k]; ok {
			delete(a.pending, k)
			dropped = append(dropped, c)
			if u := model.ParseURI(k); u.IsSwarm() && a.swarms[u.ID] == c {
				delete(a.swarms, u.ID)
			}
		}
		delete(a.requests, k)
	}
	a.mu.Unlock()

	for _, c := range dropped {
		c.Close()
	}
	if !banned {
		if c, ok := a.GetByURI(peer); ok {
			c.AddContactEvent(peer, "removed")
		}
	}
	log.Info("Contact removed", "account", a.id, "contact", peer, "banned", banned)
	a.Publish()
}

// Contact returns a cached contact.
func (a *Account) Contact(uri model.URI) (model.Contact, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ct, ok := a.contacts[uri.ID]; ok {
		return *ct, true
	}
	return model.Contact{}, false
}

// Contacts returns the confirmed, requested and banned contacts.
func (a *Account) Contacts() []model.Contact {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contactsLocked()
}

func (a *Account) contactsLocked() []model.Contact {
	out := make([]model.Contact, 0, len(a.contacts))
	for _, ct := range a.contacts {
		if ct.Status != model.ContactNoRequest {
			out = append(out, *ct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI.ID < out[j].URI.ID })
	return out
}

// RouteCall records which conversation owns a call leg.
func (a *Account) RouteCall(callID string, c *conversation.Conversation) {
	a.mu.Lock()
	a.calls[callID] = c
	a.mu.Unlock()
}

// ConversationForCall returns the conversation owning a call leg.
func (a *Account) ConversationForCall(callID string) (*conversation.Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.calls[callID]
	return c, ok
}

func (a *Account) ForgetCall(callID string) {
	a.mu.Lock()
	delete(a.calls, callID)
	a.mu.Unlock()
}

func (a *Account) forgetCallsLocked(c *conversation.Conversation) {
	for id, owner := range a.calls {
		if owner == c {
			delete(a.calls, id)
		}
	}
}

// Conversations returns the active conversations.
func (a *Account) Conversations() []*conversation.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return values(a.conversations)
}

// Pending returns the pending request conversations.
func (a *Account) Pending() []*conversation.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return values(a.pending)
}

// Keys returns the uris of active and pending conversations.
func (a *Account) Keys() (active, pending []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.conversations {
		active = append(active, k)
	}
	for k := range a.pending {
		pending = append(pending, k)
	}
	sort.Strings(active)
	sort.Strings(pending)
	return active, pending
}

// All returns every conversation the account knows about.
func (a *Account) All() []*conversation.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := map[*conversation.Conversation]bool{}
	var out []*conversation.Conversation
	for _, m := range []map[string]*conversation.Conversation{a.conversations, a.pending, a.cache, a.swarms} {
		for _, c := range m {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func values(m map[string]*conversation.Conversation) []*conversation.Conversation {
	out := make([]*conversation.Conversation, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// SetReady marks the initial account load complete.
func (a *Account) SetReady(ready bool) {
	a.mu.Lock()
	changed := a.ready != ready
	a.ready = ready
	a.mu.Unlock()
	if changed {
		a.Publish()
	}
}

type view struct {
	ready    bool
	active   []*conversation.Conversation
	pending  []*conversation.Conversation
	contacts []model.Contact
}

func (a *Account) viewLocked() view {
	return view{
		ready:    a.ready,
		active:   values(a.conversations),
		pending:  values(a.pending),
		contacts: a.contactsLocked(),
	}
}

// Snapshot builds the current account state. One-to-one conversations with
// banned contacts are left out unless includeBanned is set.
func (a *Account) Snapshot(includeBanned bool) Snapshot {
	a.mu.Lock()
	v := a.viewLocked()
	a.mu.Unlock()
	return a.build(v, includeBanned)
}

func (a *Account) build(v view, includeBanned bool) Snapshot {
	banned := map[string]bool{}
	for _, ct := range v.contacts {
		if ct.IsBanned() {
			banned[ct.URI.ID] = true
		}
	}
	s := Snapshot{
		Account:       a.id,
		Ready:         v.ready,
		Conversations: make([]conversation.Snapshot, 0, len(v.active)),
		Pending:       make([]conversation.Snapshot, 0, len(v.pending)),
		Contacts:      v.contacts,
	}
	for _, c := range v.active {
		cs := c.Summary()
		if !includeBanned && isOneToOne(cs) {
			if peer, ok := peerOf(cs); ok && banned[peer.ID] {
				continue
			}
		}
		s.Conversations = append(s.Conversations, cs)
	}
	for _, c := range v.pending {
		s.Pending = append(s.Pending, c.Summary())
	}
	sortByLastEvent(s.Conversations)
	sortByLastEvent(s.Pending)
	return s
}

func isOneToOne(s conversation.Snapshot) bool {
	return s.Mode == model.ModeOneToOne || s.Mode == model.ModeLegacy
}

func peerOf(s conversation.Snapshot) (model.URI, bool) {
	if len(s.Members) == 1 {
		return s.Members[0].URI, true
	}
	for _, m := range s.Members {
		if !m.IsUser {
			return m.URI, true
		}
	}
	return model.URI{}, false
}

func sortByLastEvent(list []conversation.Snapshot) {
	ts := func(s conversation.Snapshot) int64 {
		if s.LastEvent == nil {
			return 0
		}
		return s.LastEvent.Timestamp
	}
	sort.SliceStable(list, func(i, j int) bool {
		ti, tj := ts(list[i]), ts(list[j])
		if ti != tj {
			return ti > tj
		}
		return list[i].URI.String() < list[j].URI.String()
	})
}

// Publish sends a fresh snapshot to subscribers. Snapshots are numbered when
// their view is taken; one built from an older view than the last published
// is dropped.
func (a *Account) Publish() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.seq++
	seq := a.seq
	v := a.viewLocked()
	a.mu.Unlock()

	s := a.build(v, false)

	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	if seq <= a.published {
		return
	}
	a.published = seq
	a.state.Publish(s)
}

// SubscribeState streams account snapshots, starting with the latest one.
func (a *Account) SubscribeState() (<-chan Snapshot, func()) {
	return a.state.Subscribe(true)
}

// Close tears down every conversation and ends all subscriptions.
func (a *Account) Close() {
	all := a.All()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
	a.state.Close()
}
