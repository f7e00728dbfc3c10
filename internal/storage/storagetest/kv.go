// Package storagetest provides an in-memory storage.KV for package tests.
// Presence, queue and match all sit on the same KV seam, so the fake lives
// here instead of being duplicated per test file.
package storagetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"lexmatch-backend/internal/storage"
)

// KV is a process-local storage.KV. It honors TTLs lazily, counts calls
// per operation, and can be told to fail a given operation to exercise
// store-error paths.
type KV struct {
	mu       sync.Mutex
	strings  map[string]string
	expiry   map[string]time.Time
	lists    map[string][]string
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	calls    map[string]int
	failures map[string]failure
}

type failure struct {
	err   error
	after int
}

var _ storage.KV = (*KV)(nil)

func New() *KV {
	return &KV{
		strings:  make(map[string]string),
		expiry:   make(map[string]time.Time),
		lists:    make(map[string][]string),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		calls:    make(map[string]int),
		failures: make(map[string]failure),
	}
}

// FailWith makes every subsequent call to op return err. Pass nil to clear.
func (kv *KV) FailWith(op string, err error) {
	kv.FailAfter(op, 0, err)
}

// FailAfter lets the next `after` calls to op succeed, then fails the rest
// with err. Counting starts from the calls already made.
func (kv *KV) FailAfter(op string, after int, err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err == nil {
		delete(kv.failures, op)
		return
	}
	kv.failures[op] = failure{err: err, after: kv.calls[op] + after}
}

// CallCount reports how many times op was invoked.
func (kv *KV) CallCount(op string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.calls[op]
}

func (kv *KV) enter(op string) error {
	kv.calls[op]++
	if f, ok := kv.failures[op]; ok && kv.calls[op] > f.after {
		return f.err
	}
	return nil
}

func (kv *KV) expired(key string) bool {
	if exp, ok := kv.expiry[key]; ok && time.Now().After(exp) {
		delete(kv.strings, key)
		delete(kv.expiry, key)
		return true
	}
	return false
}

func (kv *KV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("Get"); err != nil {
		return "", false, err
	}
	if kv.expired(key) {
		return "", false, nil
	}
	val, ok := kv.strings[key]
	return val, ok, nil
}

func (kv *KV) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("SetEx"); err != nil {
		return err
	}
	kv.strings[key] = value
	kv.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (kv *KV) Del(_ context.Context, keys ...string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("Del"); err != nil {
		return err
	}
	for _, key := range keys {
		delete(kv.strings, key)
		delete(kv.expiry, key)
		delete(kv.lists, key)
		delete(kv.hashes, key)
		delete(kv.sets, key)
	}
	return nil
}

func (kv *KV) Exists(_ context.Context, key string) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("Exists"); err != nil {
		return false, err
	}
	if kv.expired(key) {
		return false, nil
	}
	if _, ok := kv.strings[key]; ok {
		return true, nil
	}
	if l, ok := kv.lists[key]; ok && len(l) > 0 {
		return true, nil
	}
	if h, ok := kv.hashes[key]; ok && len(h) > 0 {
		return true, nil
	}
	if s, ok := kv.sets[key]; ok && len(s) > 0 {
		return true, nil
	}
	return false, nil
}

func (kv *KV) Expire(_ context.Context, key string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("Expire"); err != nil {
		return err
	}
	kv.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (kv *KV) RPush(_ context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("RPush"); err != nil {
		return err
	}
	kv.lists[key] = append(kv.lists[key], value)
	return nil
}

func (kv *KV) LPop(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("LPop"); err != nil {
		return "", false, err
	}
	list := kv.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	val := list[0]
	kv.lists[key] = list[1:]
	return val, true, nil
}

func (kv *KV) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("LRange"); err != nil {
		return nil, err
	}
	list := kv.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (kv *KV) LRem(_ context.Context, key string, count int64, value string) (int64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("LRem"); err != nil {
		return 0, err
	}
	list := kv.lists[key]
	var kept []string
	var removed int64
	for _, item := range list {
		if item == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	kv.lists[key] = kept
	return removed, nil
}

func (kv *KV) LLen(_ context.Context, key string) (int64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("LLen"); err != nil {
		return 0, err
	}
	return int64(len(kv.lists[key])), nil
}

func (kv *KV) HSet(_ context.Context, key, field, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("HSet"); err != nil {
		return err
	}
	if kv.hashes[key] == nil {
		kv.hashes[key] = make(map[string]string)
	}
	kv.hashes[key][field] = value
	return nil
}

func (kv *KV) HGet(_ context.Context, key, field string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("HGet"); err != nil {
		return "", false, err
	}
	val, ok := kv.hashes[key][field]
	return val, ok, nil
}

func (kv *KV) HDel(_ context.Context, key string, fields ...string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("HDel"); err != nil {
		return err
	}
	for _, field := range fields {
		delete(kv.hashes[key], field)
	}
	return nil
}

func (kv *KV) SAdd(_ context.Context, key, member string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("SAdd"); err != nil {
		return err
	}
	if kv.sets[key] == nil {
		kv.sets[key] = make(map[string]struct{})
	}
	kv.sets[key][member] = struct{}{}
	return nil
}

func (kv *KV) SRem(_ context.Context, key, member string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("SRem"); err != nil {
		return err
	}
	delete(kv.sets[key], member)
	return nil
}

func (kv *KV) SIsMember(_ context.Context, key, member string) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("SIsMember"); err != nil {
		return false, err
	}
	_, ok := kv.sets[key][member]
	return ok, nil
}

// Keys supports the trailing-wildcard patterns the core actually uses.
func (kv *KV) Keys(_ context.Context, pattern string) ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.enter("Keys"); err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	seen := make(map[string]struct{})
	collect := func(key string) {
		if !strings.HasPrefix(key, prefix) {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for key := range kv.strings {
		collect(key)
	}
	for key, l := range kv.lists {
		if len(l) > 0 {
			collect(key)
		}
	}
	for key, h := range kv.hashes {
		if len(h) > 0 {
			collect(key)
		}
	}
	for key, s := range kv.sets {
		if len(s) > 0 {
			collect(key)
		}
	}
	return out, nil
}
