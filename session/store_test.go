package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func liveSession(channel string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             "id-" + channel,
		Channel:        channel,
		Status:         StatusActive,
		SourceLanguage: "en",
		TargetLanguage: "es",
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestStorePutGet(t *testing.T) {
	s := NewStore(5, time.Minute)

	if err := s.Put(liveSession("room1", time.Hour)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok := s.Get("room1")
	if !ok {
		t.Fatal("Get() = absent, want present")
	}
	if got.Channel != "room1" || got.Status != StatusActive {
		t.Errorf("Get() = %+v, want room1/active", got)
	}

	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) = present, want absent")
	}
}

func TestStoreGetEvictsExpired(t *testing.T) {
	s := NewStore(5, time.Minute)
	if err := s.Put(liveSession("room1", -time.Second)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Lazy eviction: an expired record is absent on the next read even though
	// no sweep has run.
	if _, ok := s.Get("room1"); ok {
		t.Error("Get() of expired session = present, want absent")
	}
	if n := s.Count(); n != 0 {
		t.Errorf("Count() after lazy eviction = %d, want 0", n)
	}
}

func TestStoreListEvictsExpired(t *testing.T) {
	s := NewStore(5, time.Minute)
	if err := s.Put(liveSession("live", time.Hour)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(liveSession("dead", -time.Second)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	list := s.List()
	if len(list) != 1 || list[0].Channel != "live" {
		t.Errorf("List() = %+v, want only live", list)
	}
	if n := s.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestStoreCapacity(t *testing.T) {
	s := NewStore(2, time.Minute)
	if err := s.Put(liveSession("a", time.Hour)); err != nil {
		t.Fatalf("Put(a) error = %v", err)
	}
	if err := s.Put(liveSession("b", time.Hour)); err != nil {
		t.Fatalf("Put(b) error = %v", err)
	}

	err := s.Put(liveSession("c", time.Hour))
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("Put(c) error = %v, want ErrCapacity", err)
	}

	// Re-putting an existing channel is not a capacity violation.
	if err := s.Put(liveSession("a", time.Hour)); err != nil {
		t.Errorf("Put(a) again error = %v", err)
	}
}

func TestStoreCapacitySweepsBeforeReject(t *testing.T) {
	s := NewStore(2, time.Minute)
	if err := s.Put(liveSession("a", -time.Second)); err != nil {
		t.Fatalf("Put(a) error = %v", err)
	}
	if err := s.Put(liveSession("b", time.Hour)); err != nil {
		t.Fatalf("Put(b) error = %v", err)
	}

	// "a" is expired, so the synchronous sweep frees a slot and the put succeeds.
	if err := s.Put(liveSession("c", time.Hour)); err != nil {
		t.Fatalf("Put(c) error = %v, want success after sweep", err)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("expired session survived the capacity sweep")
	}
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := NewStore(5, time.Minute)
	if err := s.Put(liveSession("room1", time.Hour)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if !s.Remove("room1") {
		t.Error("Remove() = false, want true for present session")
	}
	if s.Remove("room1") {
		t.Error("Remove() twice = true, want false")
	}
	if s.Remove("never-existed") {
		t.Error("Remove(absent) = true, want false")
	}
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore(5, time.Minute)
	if err := s.Put(liveSession("room1", time.Hour)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ok := s.Update("room1", func(sess *Session) {
		sess.Status = StatusStopping
		sess.TaskID = "t9"
	})
	if !ok {
		t.Fatal("Update() = false, want true")
	}
	got, _ := s.Get("room1")
	if got.Status != StatusStopping || got.TaskID != "t9" {
		t.Errorf("after Update, session = %+v", got)
	}

	if s.Update("absent", func(sess *Session) {}) {
		t.Error("Update(absent) = true, want false")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore(5, time.Minute)
	if err := s.Put(liveSession("room1", time.Hour)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, _ := s.Get("room1")
	got.Status = StatusEnded
	again, _ := s.Get("room1")
	if again.Status != StatusActive {
		t.Error("mutating a Get() result leaked into the store")
	}
}

func TestStoreSweepExpired(t *testing.T) {
	s := NewStore(10, time.Minute)
	for i := 0; i < 3; i++ {
		if err := s.Put(liveSession(fmt.Sprintf("dead%d", i), -time.Second)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if err := s.Put(liveSession("live", time.Hour)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if n := s.SweepExpired(); n != 3 {
		t.Errorf("SweepExpired() = %d, want 3", n)
	}
	if n := s.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestStoreEvictHook(t *testing.T) {
	s := NewStore(10, time.Minute)
	var mu sync.Mutex
	var evicted []string
	s.SetOnEvict(func(channel string) {
		mu.Lock()
		evicted = append(evicted, channel)
		mu.Unlock()
		// The hook must run outside the store lock.
		s.Count()
	})

	if err := s.Put(liveSession("lazy", -time.Second)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := s.Get("lazy"); ok {
		t.Fatal("Get() of expired session = present, want absent")
	}
	mu.Lock()
	got := append([]string(nil), evicted...)
	mu.Unlock()
	if len(got) != 1 || got[0] != "lazy" {
		t.Fatalf("evictions after lazy Get = %v, want [lazy]", got)
	}

	if err := s.Put(liveSession("swept", -time.Second)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if n := s.SweepExpired(); n != 1 {
		t.Fatalf("SweepExpired() = %d, want 1", n)
	}
	mu.Lock()
	got = append([]string(nil), evicted...)
	mu.Unlock()
	if len(got) != 2 || got[1] != "swept" {
		t.Errorf("evictions after sweep = %v, want [lazy swept]", got)
	}

	// Explicit removal is a stop, not an expiry; the hook must stay silent.
	if err := s.Put(liveSession("stopped", time.Hour)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	s.Remove("stopped")
	mu.Lock()
	n := len(evicted)
	mu.Unlock()
	if n != 2 {
		t.Errorf("evictions after Remove = %d, want 2", n)
	}
}

func TestStoreRunSweeps(t *testing.T) {
	s := NewStore(10, 20*time.Millisecond)
	if err := s.Put(liveSession("dead", 10*time.Millisecond)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for s.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := s.Count(); n != 0 {
		t.Errorf("Count() = %d after sweep window, want 0", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestLockChannelSerializesSameChannel(t *testing.T) {
	s := NewStore(5, time.Minute)

	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.LockChannel("room1")
			defer unlock()
			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInCritical)
	}
}

func TestLockChannelIndependentChannels(t *testing.T) {
	s := NewStore(5, time.Minute)

	unlockA := s.LockChannel("a")
	defer unlockA()

	// A hang on channel a must not block channel b.
	acquired := make(chan struct{})
	go func() {
		unlockB := s.LockChannel("b")
		close(acquired)
		unlockB()
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("LockChannel(b) blocked behind held lock on a")
	}
}

func TestLockChannelReleasesEntry(t *testing.T) {
	s := NewStore(5, time.Minute)
	unlock := s.LockChannel("room1")
	unlock()

	s.lockMu.Lock()
	n := len(s.locks)
	s.lockMu.Unlock()
	if n != 0 {
		t.Errorf("lock table has %d entries after release, want 0", n)
	}
}
