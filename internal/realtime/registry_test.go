package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/models"
)

type fakeMember struct {
	user   string
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (m *fakeMember) UserID() string { return m.user }

func (m *fakeMember) Enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.frames = append(m.frames, frame)
	return true
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	a := &fakeMember{user: "S1"}
	b := &fakeMember{user: "S1"}
	c := &fakeMember{user: "T1"}

	r.Join("7", a)
	r.Join("7", a)
	r.Join("7", b)
	r.Join("7", c)
	r.Join("8", c)

	assert.Len(t, r.MembersOf("7"), 3)
	assert.Equal(t, []string{"S1", "T1"}, r.OnlineUsers("7"))
	rooms, members := r.Stats()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 4, members)

	r.Leave("7", a)
	r.Leave("7", a)
	r.Leave("9", a)
	assert.False(t, r.Contains("7", a))
	assert.True(t, r.Contains("7", b))

	r.Leave("8", c)
	rooms, _ = r.Stats()
	assert.Equal(t, 1, rooms)
	assert.Empty(t, r.MembersOf("8"))
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry()
	ok := &fakeMember{user: "S1"}
	full := &fakeMember{user: "S2", full: true}
	other := &fakeMember{user: "S3"}
	r.Join("7", ok)
	r.Join("7", full)
	r.Join("8", other)

	assert.Equal(t, 1, r.Broadcast("7", []byte("x")))
	assert.Len(t, ok.frames, 1)
	assert.Empty(t, other.frames)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := &fakeMember{user: "S"}
			for j := 0; j < 50; j++ {
				r.Join("7", m)
				r.Broadcast("7", []byte("x"))
				r.Leave("7", m)
			}
		}()
	}
	wg.Wait()
	rooms, members := r.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, members)
}

func TestSequencerSerialisesPerKey(t *testing.T) {
	s := newSequencer()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("7")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, s.size())

	unlockA := s.Lock("a")
	unlockB := s.Lock("b")
	assert.Equal(t, 2, s.size())
	unlockA()
	unlockB()
	assert.Zero(t, s.size())
}

func TestClientEnqueueDropsSlowConsumer(t *testing.T) {
	slow := 0
	opts := Options{SendBuffer: 1, OnSlowConsumer: func() { slow++ }}.withDefaults()
	opts.SendBuffer = 1
	c := newClient(nil, models.Identity{UserID: "S1", Role: models.ChatRoleStudent}, opts, zap.NewNop())

	require.True(t, c.Enqueue([]byte("a")))
	assert.False(t, c.Enqueue([]byte("b")))
	assert.Equal(t, 1, slow)

	select {
	case <-c.done:
	default:
		t.Fatal("slow client was not shut down")
	}
	assert.False(t, c.Enqueue([]byte("c")))
	assert.Equal(t, 1, slow)
}
