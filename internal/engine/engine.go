// Package engine serves every account of the process: it applies inbound
// events, seeds conversations from the history store, persists what it
// receives and hands local actions to the command sink.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/account"
	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/conversation"
	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
	registrycache "github.com/chirino/swarm-sync/internal/registry/cache"
	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/google/uuid"
)

// Engine is safe for concurrent use. Its own mutex guards only the account
// table, seed states and conference hosts; it is never held while calling
// into an account or a conversation.
type Engine struct {
	cfg   *config.Config
	store registrystore.HistoryStore
	cache registrycache.HistoryCache
	sink  registrycommand.Sink
	opts  conversation.Options

	mu          sync.Mutex
	accounts    map[string]*account.Account
	seeds       map[*conversation.Conversation]*sync.Once
	conferences map[confKey]*conversation.Conversation
	closed      bool
}

type confKey struct {
	account string
	confID  string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the clock handed to conversations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.opts.Now = now }
}

// New builds an engine. store, cache and sink may be nil.
func New(cfg *config.Config, store registrystore.HistoryStore, cache registrycache.HistoryCache, sink registrycommand.Sink, options ...Option) *Engine {
	if cfg == nil {
		c := config.DefaultConfig()
		cfg = &c
	}
	e := &Engine{
		cfg:         cfg,
		store:       store,
		cache:       cache,
		sink:        sink,
		opts:        conversation.Options{DowngradeStatusOnUpdate: cfg.DowngradeStatusOnUpdate},
		accounts:    map[string]*account.Account{},
		seeds:       map[*conversation.Conversation]*sync.Once{},
		conferences: map[confKey]*conversation.Conversation{},
	}
	for _, o := range options {
		o(e)
	}
	for id, user := range cfg.Accounts {
		e.AddAccount(id, model.ParseURI(user))
	}
	return e
}

// AddAccount registers an account, or returns the existing one.
func (e *Engine) AddAccount(id string, user model.URI) *account.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.accounts[id]; ok {
		return a
	}
	a := account.New(id, user, e.opts)
	e.accounts[id] = a
	log.Info("Account registered", "account", id, "user", user)
	return a
}

// Account returns a registered account.
func (e *Engine) Account(id string) (*account.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.accounts[id]; ok {
		return a, nil
	}
	return nil, &UnknownAccountError{ID: id}
}

// account returns the account an inbound event targets, registering it when
// auto-creation is enabled.
func (e *Engine) account(id string) (*account.Account, error) {
	a, err := e.Account(id)
	if err == nil || !e.cfg.AutoCreateAccounts {
		return a, err
	}
	return e.AddAccount(id, model.ParseURI(id)), nil
}

// AccountIDs lists registered accounts.
func (e *Engine) AccountIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.accounts))
	for id := range e.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Conversations returns every conversation of every account.
func (e *Engine) Conversations() []*conversation.Conversation {
	e.mu.Lock()
	accounts := make([]*account.Account, 0, len(e.accounts))
	for _, a := range e.accounts {
		accounts = append(accounts, a)
	}
	e.mu.Unlock()
	var out []*conversation.Conversation
	for _, a := range accounts {
		out = append(out, a.All()...)
	}
	return out
}

// conversationFor returns the conversation for uri, seeded from the cache or
// the store the first time it is used.
func (e *Engine) conversationFor(ctx context.Context, a *account.Account, uri model.URI) *conversation.Conversation {
	c := a.GetByKey(uri)
	e.seed(ctx, a, c)
	return c
}

func (e *Engine) seed(ctx context.Context, a *account.Account, c *conversation.Conversation) {
	e.mu.Lock()
	once, ok := e.seeds[c]
	if !ok {
		once = &sync.Once{}
		e.seeds[c] = once
	}
	e.mu.Unlock()
	once.Do(func() {
		history := e.loadHistory(ctx, a.ID(), c.URI())
		if len(history) > 0 {
			c.SetHistory(history)
		}
	})
}

func (e *Engine) loadHistory(ctx context.Context, accountID string, uri model.URI) []model.Interaction {
	if e.cache != nil && e.cache.Available() {
		history, err := e.cache.Get(ctx, accountID, uri)
		if err != nil {
			log.Warn("History cache read failed", "account", accountID, "conversation", uri, "err", err)
		} else if history != nil {
			metrics.CacheHit()
			return history
		} else {
			metrics.CacheMiss()
		}
	}
	if e.store == nil {
		return nil
	}
	history, err := e.store.LoadHistory(ctx, accountID, uri)
	if err != nil {
		log.Error("History load failed", "account", accountID, "conversation", uri, "err", err)
		return nil
	}
	if e.cache != nil && e.cache.Available() {
		if err := e.cache.Set(ctx, accountID, uri, history, e.cfg.CacheTTL); err != nil {
			log.Warn("History cache write failed", "account", accountID, "conversation", uri, "err", err)
		}
	}
	return history
}

// persist runs op against the store and drops the cached history it made
// stale. Failures are logged; the in-memory state stays authoritative.
func (e *Engine) persist(ctx context.Context, accountID string, uri model.URI, what string, op func(registrystore.HistoryStore) error) {
	if e.store == nil {
		return
	}
	if err := op(e.store); err != nil {
		log.Error("History persist failed", "op", what, "account", accountID, "conversation", uri, "err", err)
	}
	if e.cache != nil && e.cache.Available() {
		if err := e.cache.Remove(ctx, accountID, uri); err != nil {
			log.Warn("History cache invalidation failed", "account", accountID, "conversation", uri, "err", err)
		}
	}
}

// command hands cmd to the sink. A missing sink accepts everything.
func (e *Engine) command(ctx context.Context, cmd registrycommand.Command) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}
	var err error
	if e.sink != nil {
		err = e.sink.Send(ctx, cmd)
	}
	metrics.Command(string(cmd.Kind), err)
	if err != nil {
		return &CommandError{Kind: string(cmd.Kind), Err: err}
	}
	return nil
}

// forget drops engine state tied to a closed conversation.
func (e *Engine) forget(c *conversation.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seeds, c)
	for k, host := range e.conferences {
		if host == c {
			delete(e.conferences, k)
		}
	}
}

// Close tears down every account and releases the store and the sink.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	accounts := make([]*account.Account, 0, len(e.accounts))
	for _, a := range e.accounts {
		accounts = append(accounts, a)
	}
	e.mu.Unlock()

	for _, a := range accounts {
		a.Close()
	}
	var firstErr error
	if e.sink != nil {
		if err := e.sink.Close(); err != nil {
			firstErr = err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
