// Package inmemory is a sharded, capacity-bounded session store. Sessions
// evict least-recently-used once a shard fills; there is no TTL and no disk.
package inmemory

import (
	"hash/fnv"
	"log"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rfvalente/morada/session"
)

const (
	shardCount      = 16
	defaultCapacity = 1024
)

type shard struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *session.Session]
}

type Store struct {
	shards [shardCount]*shard
	logger *log.Logger
}

// New builds a store holding roughly capacity sessions, split across shards.
func New(capacity int, logger *log.Logger) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	per := capacity / shardCount
	if per < 1 {
		per = 1
	}
	st := &Store{logger: logger}
	for i := range st.shards {
		// lru.NewWithEvict only errors on size <= 0.
		cache, _ := lru.NewWithEvict(per, func(id string, _ *session.Session) {
			logger.Printf("session %s evicted", id)
		})
		st.shards[i] = &shard{cache: cache}
	}
	return st
}

func (st *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return st.shards[h.Sum32()%shardCount]
}

// Ensure returns the session for id, creating one when id is empty or no
// longer live. The shard lock makes get-or-create atomic.
func (st *Store) Ensure(id string) *session.Session {
	if id == "" {
		id = uuid.NewString()
	}
	sh := st.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sess, ok := sh.cache.Get(id); ok {
		return sess
	}
	sess := session.New(id)
	sh.cache.Add(id, sess)
	return sess
}

func (st *Store) Get(id string) (*session.Session, bool) {
	sh := st.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.cache.Get(id)
}

func (st *Store) Len() int {
	n := 0
	for i := range st.shards {
		st.shards[i].mu.Lock()
		n += st.shards[i].cache.Len()
		st.shards[i].mu.Unlock()
	}
	return n
}
