// Package store persists chat documents in a PebbleDB key-value store.
// Session, agent and settings documents are JSON values under string
// prefixes; per-chat message logs live under 8-byte big-endian sequence
// keys so append order survives restarts.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/gosuda/chatdesk/internal/chat"
)

const (
	keySessionPrefix = "session:"
	keyAgentPrefix   = "agent:"
	keyMsgPrefix     = "msg:"
	keySettings      = "settings"
)

// Store is the document store shared by the session service and the agent
// registry. All methods are safe for concurrent use.
type Store struct {
	db *pebble.DB

	mu   sync.Mutex
	next map[string]uint64 // per-chat next message sequence
}

// Open opens (or creates) the store at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db, next: make(map[string]uint64)}, nil
}

// OpenMemory opens an in-memory store; used when no data path is
// configured and throughout the tests.
func OpenMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db, next: make(map[string]uint64)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getJSON(key string, v any) (bool, error) {
	data, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = closer.Close() }()
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(key), data, pebble.Sync)
}

// PutSession upserts the session document keyed by visitor id.
func (s *Store) PutSession(sess chat.Session) error {
	return s.putJSON(keySessionPrefix+sess.VisitorID, sess)
}

// GetSession loads the session for visitorID; ok is false when absent.
func (s *Store) GetSession(visitorID string) (chat.Session, bool, error) {
	var sess chat.Session
	ok, err := s.getJSON(keySessionPrefix+visitorID, &sess)
	return sess, ok, err
}

// DeleteSession removes the session document only; message purging is a
// separate step keyed by chat id.
func (s *Store) DeleteSession(visitorID string) error {
	return s.db.Delete([]byte(keySessionPrefix+visitorID), pebble.Sync)
}

// Sessions returns every persisted session in key order.
func (s *Store) Sessions() ([]chat.Session, error) {
	var out []chat.Session
	err := s.iterPrefix(keySessionPrefix, func(val []byte) error {
		var sess chat.Session
		if err := json.Unmarshal(val, &sess); err == nil {
			out = append(out, sess)
		}
		return nil
	})
	return out, err
}

func msgKey(chatID string, seq uint64) []byte {
	key := make([]byte, 0, len(keyMsgPrefix)+len(chatID)+9)
	key = append(key, keyMsgPrefix...)
	key = append(key, chatID...)
	key = append(key, ':')
	var seqb [8]byte
	binary.BigEndian.PutUint64(seqb[:], seq)
	return append(key, seqb[:]...)
}

// AppendMessage persists msg at the next sequence for its chat.
func (s *Store) AppendMessage(msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.next[msg.ChatID]
	if !ok {
		last, err := s.lastSeq(msg.ChatID)
		if err != nil {
			return err
		}
		seq = last
	}
	s.next[msg.ChatID] = seq + 1
	val, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Set(msgKey(msg.ChatID, seq), val, pebble.Sync)
}

// lastSeq discovers the next free sequence by reading the last key of the
// chat's range. Caller holds s.mu.
func (s *Store) lastSeq(chatID string) (uint64, error) {
	lower := msgKey(chatID, 0)
	upper := msgKey(chatID, ^uint64(0))
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()
	if it.Last() && len(it.Key()) >= 8 {
		return binary.BigEndian.Uint64(it.Key()[len(it.Key())-8:]) + 1, nil
	}
	return 0, nil
}

// Messages loads the full ordered history for chatID.
func (s *Store) Messages(chatID string) ([]chat.Message, error) {
	lower := msgKey(chatID, 0)
	upper := msgKey(chatID, ^uint64(0))
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	out := make([]chat.Message, 0, 64)
	for it.First(); it.Valid(); it.Next() {
		var msg chat.Message
		if err := json.Unmarshal(it.Value(), &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

// MarkRead flips the read flag on every message from sender in chatID.
func (s *Store) MarkRead(chatID string, sender chat.Sender) error {
	lower := msgKey(chatID, 0)
	upper := msgKey(chatID, ^uint64(0))
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	batch := s.db.NewBatch()
	for it.First(); it.Valid(); it.Next() {
		var msg chat.Message
		if err := json.Unmarshal(it.Value(), &msg); err != nil {
			continue
		}
		if msg.Sender != sender || msg.Read {
			continue
		}
		msg.Read = true
		val, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		key := append([]byte(nil), it.Key()...)
		if err := batch.Set(key, val, nil); err != nil {
			return err
		}
	}
	return s.db.Apply(batch, pebble.Sync)
}

// PurgeMessages removes the whole message log for chatID.
func (s *Store) PurgeMessages(chatID string) error {
	s.mu.Lock()
	delete(s.next, chatID)
	s.mu.Unlock()
	lower := msgKey(chatID, 0)
	upper := msgKey(chatID, ^uint64(0))
	return s.db.DeleteRange(lower, upper, pebble.Sync)
}

// PutAgent upserts an agent document.
func (s *Store) PutAgent(a chat.Agent) error {
	return s.putJSON(keyAgentPrefix+a.ID, a)
}

// DeleteAgent removes an agent document. Historical messages keep the
// sender name they were stamped with.
func (s *Store) DeleteAgent(id string) error {
	return s.db.Delete([]byte(keyAgentPrefix+id), pebble.Sync)
}

// Agents returns all agent documents in key order.
func (s *Store) Agents() ([]chat.Agent, error) {
	var out []chat.Agent
	err := s.iterPrefix(keyAgentPrefix, func(val []byte) error {
		var a chat.Agent
		if err := json.Unmarshal(val, &a); err == nil {
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// SwapActiveAgent writes the given agents in one atomic batch. The
// registry uses it for the clear-all-then-set-one active swap so no
// observer ever sees zero or two active agents.
func (s *Store) SwapActiveAgent(agents []chat.Agent) error {
	batch := s.db.NewBatch()
	for _, a := range agents {
		val, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := batch.Set([]byte(keyAgentPrefix+a.ID), val, nil); err != nil {
			return err
		}
	}
	return s.db.Apply(batch, pebble.Sync)
}

// Settings loads the singleton settings document, falling back to defaults
// when none was stored yet.
func (s *Store) Settings() (chat.Settings, error) {
	var cfg chat.Settings
	ok, err := s.getJSON(keySettings, &cfg)
	if err != nil {
		return cfg, err
	}
	if !ok {
		return chat.DefaultSettings(), nil
	}
	return cfg, nil
}

// PutSettings stores the singleton settings document.
func (s *Store) PutSettings(cfg chat.Settings) error {
	return s.putJSON(keySettings, cfg)
}

func (s *Store) iterPrefix(prefix string, fn func(val []byte) error) error {
	lower := []byte(prefix)
	upper := append([]byte(prefix[:len(prefix)-1]), prefix[len(prefix)-1]+1)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for it.First(); it.Valid(); it.Next() {
		if err := fn(it.Value()); err != nil {
			return err
		}
	}
	return nil
}
