package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chirino/swarm-sync/internal/model"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.HistoryStore, error) {
			return New(), nil
		},
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

type row struct {
	seq  int64
	node model.Interaction
}

// Store keeps history in process memory. It is lost on restart.
type Store struct {
	mu   sync.Mutex
	seq  int64
	rows map[string]map[string]map[string]*row // account -> conversation -> key
}

func New() *Store {
	return &Store{rows: map[string]map[string]map[string]*row{}}
}

func (s *Store) conversation(account string, uri model.URI, create bool) map[string]*row {
	convs, ok := s.rows[account]
	if !ok {
		if !create {
			return nil
		}
		convs = map[string]map[string]*row{}
		s.rows[account] = convs
	}
	rows, ok := convs[uri.String()]
	if !ok && create {
		rows = map[string]*row{}
		convs[uri.String()] = rows
	}
	return rows
}

func (s *Store) LoadHistory(_ context.Context, account string, uri model.URI) ([]model.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.conversation(account, uri, false)
	list := make([]*row, 0, len(rows))
	for _, r := range rows {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].node.Timestamp != list[j].node.Timestamp {
			return list[i].node.Timestamp < list[j].node.Timestamp
		}
		return list[i].seq < list[j].seq
	})
	out := make([]model.Interaction, len(list))
	for i, r := range list {
		out[i] = r.node.Clone()
	}
	return out, nil
}

func (s *Store) SaveInteraction(_ context.Context, account string, uri model.URI, n model.Interaction) error {
	if err := registrystore.Validate(account, uri); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.conversation(account, uri, true)
	key := registrystore.Key(n)
	if r, ok := rows[key]; ok {
		r.node = n.Clone()
		return nil
	}
	s.seq++
	rows[key] = &row{seq: s.seq, node: n.Clone()}
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, account string, uri model.URI, key, peer string, st model.InteractionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.conversation(account, uri, false)[key]
	if !ok {
		return &registrystore.NotFoundError{Resource: "interaction", ID: key}
	}
	registrystore.MergeStatus(&r.node, peer, st)
	return nil
}

func (s *Store) RemoveInteraction(_ context.Context, account string, uri model.URI, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.conversation(account, uri, false)
	if _, ok := rows[key]; !ok {
		return &registrystore.NotFoundError{Resource: "interaction", ID: key}
	}
	delete(rows, key)
	return nil
}

func (s *Store) ClearHistory(_ context.Context, account string, uri model.URI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if convs, ok := s.rows[account]; ok {
		delete(convs, uri.String())
	}
	return nil
}

func (s *Store) ListConversations(_ context.Context, account string) ([]model.URI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.URI
	for uri, rows := range s.rows[account] {
		if len(rows) > 0 {
			out = append(out, model.ParseURI(uri))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) Close() error { return nil }
