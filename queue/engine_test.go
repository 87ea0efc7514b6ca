package queue

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkSong(id string) Song {
	return Song{ID: id, VideoID: "v-" + id, Title: "T " + id, Artist: "A", Source: SourceYouTube}
}

func mkFallback(id string) Song {
	s := mkSong(id)
	s.IsFallback = true
	return s
}

func ids(songs []Song) []string {
	out := make([]string, len(songs))
	for i, s := range songs {
		out[i] = s.ID
	}
	return out
}

type recorder struct {
	events []Event
}

func record(e *Engine) *recorder {
	r := &recorder{}
	e.Subscribe(func(ev Event) { r.events = append(r.events, ev) })
	return r
}

func (r *recorder) types() []EventType {
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newEngineWith(songs ...Song) *Engine {
	e := NewEngine()
	for _, s := range songs {
		e.AddSong(s)
	}
	return e
}

func TestNewEngine(t *testing.T) {
	e := NewEngine()
	st := e.State()

	assert.Empty(t, st.Songs)
	assert.Equal(t, -1, st.CurrentIndex)
	assert.False(t, st.IsPlaying)
	assert.Empty(t, st.PlayHistory)
	assert.True(t, st.AutoRecommend)
	assert.Nil(t, e.CurrentSong())
}

func TestAddSongNeverSelects(t *testing.T) {
	e := NewEngine()
	r := record(e)

	e.AddSong(Song{ID: "s1", VideoID: "v1", Title: "T", Artist: "A"})

	st := e.State()
	assert.Equal(t, []string{"s1"}, ids(st.Songs))
	assert.Equal(t, -1, st.CurrentIndex)
	assert.Equal(t, []EventType{EventUpdate, EventSongAdded}, r.types())

	update := r.events[0].Payload.(QueueState)
	assert.Len(t, update.Songs, 1)
	assert.Equal(t, "s1", r.events[1].Payload.(Song).ID)
}

func TestStateIsACopy(t *testing.T) {
	e := newEngineWith(mkSong("s1"))

	st := e.State()
	st.Songs[0].Title = "changed"
	st.Songs = append(st.Songs, mkSong("x"))

	assert.Equal(t, "T s1", e.State().Songs[0].Title)
	assert.Len(t, e.State().Songs, 1)
}

func TestPlayNext(t *testing.T) {
	e := newEngineWith(mkSong("s1"))
	r := record(e)

	got := e.PlayNext()
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)

	st := e.State()
	assert.Equal(t, 0, st.CurrentIndex)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, []EventType{EventUpdate, EventCurrentChanged}, r.types())

	// nothing after the last song
	r.events = nil
	assert.Nil(t, e.PlayNext())
	assert.Equal(t, 0, e.State().CurrentIndex)
	assert.Empty(t, r.events)
}

func TestPlayPrevious(t *testing.T) {
	e := newEngineWith(mkSong("s1"), mkSong("s2"))

	assert.Nil(t, e.PlayPrevious(), "nothing selected")
	e.PlaySongAt(1)

	got := e.PlayPrevious()
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, 0, e.State().CurrentIndex)

	r := record(e)
	assert.Nil(t, e.PlayPrevious(), "floor at index 0")
	assert.Equal(t, 0, e.State().CurrentIndex)
	assert.Empty(t, r.events)
}

func TestPlaySongAt(t *testing.T) {
	e := newEngineWith(mkSong("s1"), mkSong("s2"), mkSong("s3"))
	r := record(e)

	for _, bad := range []int{-1, 3, 100} {
		assert.Nil(t, e.PlaySongAt(bad))
	}
	assert.Empty(t, r.events)
	assert.Equal(t, -1, e.State().CurrentIndex)

	got := e.PlaySongAt(2)
	require.NotNil(t, got)
	assert.Equal(t, "s3", got.ID)
	assert.True(t, e.State().IsPlaying)
}

func TestSetPlayingState(t *testing.T) {
	e := NewEngine()
	r := record(e)

	e.SetPlayingState(true)
	e.SetPlayingState(true)

	assert.True(t, e.State().IsPlaying)
	require.Len(t, r.events, 4)
	assert.Equal(t, EventPlaybackState, r.events[1].Type)
	assert.Equal(t, true, r.events[1].Payload)

	e.SetPlayingState(false)
	assert.False(t, e.State().IsPlaying)
	assert.Equal(t, false, r.events[5].Payload)
}

func TestRemoveSong(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		remove      string
		wantSongs   []string
		wantCurrent int
	}{
		{"after current", 0, "s3", []string{"s1", "s2"}, 0},
		{"before current", 2, "s1", []string{"s2", "s3"}, 1},
		{"the current song", 1, "s2", []string{"s1", "s3"}, 0},
		{"current at head", 0, "s1", []string{"s2", "s3"}, -1},
		{"nothing selected", -1, "s2", []string{"s1", "s3"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngineWith(mkSong("s1"), mkSong("s2"), mkSong("s3"))
			if tt.current >= 0 {
				e.PlaySongAt(tt.current)
			}
			r := record(e)

			assert.True(t, e.RemoveSong(tt.remove))

			st := e.State()
			assert.Equal(t, tt.wantSongs, ids(st.Songs))
			assert.Equal(t, tt.wantCurrent, st.CurrentIndex)
			assert.Equal(t, []EventType{EventUpdate, EventSongRemoved}, r.types())
			assert.Equal(t, tt.remove, r.events[1].Payload.(Song).ID)
		})
	}
}

func TestRemoveSongUnknown(t *testing.T) {
	e := newEngineWith(mkSong("s1"))
	r := record(e)

	assert.False(t, e.RemoveSong("nope"))
	assert.Empty(t, r.events)
	assert.Len(t, e.State().Songs, 1)
}

func TestRemoveSongIf(t *testing.T) {
	s := mkSong("s1")
	s.AddedBy = "device-a"
	e := newEngineWith(s)

	owner := func(id string) func(Song) bool {
		return func(s Song) bool { return s.AddedBy == id }
	}

	removed, found := e.RemoveSongIf("s1", owner("device-b"))
	assert.Nil(t, removed)
	assert.True(t, found)
	assert.Len(t, e.State().Songs, 1)

	removed, found = e.RemoveSongIf("missing", owner("device-a"))
	assert.Nil(t, removed)
	assert.False(t, found)

	removed, found = e.RemoveSongIf("s1", owner("device-a"))
	require.NotNil(t, removed)
	assert.True(t, found)
	assert.Empty(t, e.State().Songs)
}

func TestRemoveCurrentAndMoveNext(t *testing.T) {
	e := newEngineWith(mkSong("s1"), mkSong("s2"))
	e.PlayNext()
	r := record(e)

	next := e.RemoveCurrentAndMoveNext()
	require.NotNil(t, next)
	assert.Equal(t, "s2", next.ID)

	st := e.State()
	assert.Equal(t, []string{"s2"}, ids(st.Songs))
	assert.Equal(t, 0, st.CurrentIndex)
	assert.Equal(t, []string{"s1"}, ids(st.PlayHistory))
	assert.Equal(t, []EventType{EventUpdate, EventSongRemoved, EventCurrentChanged}, r.types())
	assert.Equal(t, "s1", r.events[1].Payload.(Song).ID)
	assert.Equal(t, "s2", r.events[2].Payload.(Song).ID)
}

func TestRemoveCurrentAndMoveNextExhausts(t *testing.T) {
	e := newEngineWith(mkSong("s1"))
	e.PlayNext()
	r := record(e)

	assert.Nil(t, e.RemoveCurrentAndMoveNext())

	st := e.State()
	assert.Empty(t, st.Songs)
	assert.Equal(t, -1, st.CurrentIndex)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 1, r.count(EventQueueEmpty))
	assert.Equal(t, []EventType{EventQueueEmpty, EventUpdate, EventSongRemoved}, r.types())
}

func TestRemoveCurrentAndMoveNextWithoutAutoRecommend(t *testing.T) {
	e := newEngineWith(mkSong("s1"))
	e.SetAutoRecommend(false)
	e.PlayNext()
	r := record(e)

	e.RemoveCurrentAndMoveNext()

	assert.Zero(t, r.count(EventQueueEmpty))
	assert.False(t, e.AutoRecommend())
}

func TestRemoveCurrentAndMoveNextWithoutCurrent(t *testing.T) {
	e := newEngineWith(mkSong("s1"))
	r := record(e)

	assert.Nil(t, e.RemoveCurrentAndMoveNext())
	assert.Nil(t, e.SkipCurrent())
	assert.Empty(t, r.events)
	assert.Len(t, e.State().Songs, 1)
}

func TestRemoveCurrentFromMiddle(t *testing.T) {
	e := newEngineWith(mkSong("s1"), mkSong("s2"), mkSong("s3"))
	e.PlaySongAt(1)

	next := e.SkipCurrent()
	require.NotNil(t, next)
	assert.Equal(t, "s3", next.ID)
	assert.Equal(t, []string{"s1", "s3"}, ids(e.State().Songs))
	assert.Equal(t, 1, e.State().CurrentIndex)
}

func TestPlayHistoryIsBounded(t *testing.T) {
	e := NewEngine()
	e.SetAutoRecommend(false)
	for i := 0; i < MaxHistory+10; i++ {
		e.AddSong(mkSong(fmt.Sprintf("s%d", i)))
	}
	e.PlayNext()
	for e.CurrentSong() != nil {
		e.RemoveCurrentAndMoveNext()
	}

	h := e.State().PlayHistory
	require.Len(t, h, MaxHistory)
	assert.Equal(t, "s10", h[0].ID, "oldest entries are evicted first")
	assert.Equal(t, fmt.Sprintf("s%d", MaxHistory+9), h[len(h)-1].ID)
}

func TestFallbackSongsStayOutOfHistory(t *testing.T) {
	e := newEngineWith(mkFallback("f1"), mkFallback("f2"))
	e.PlayNext()

	e.RemoveCurrentAndMoveNext()
	e.RemoveCurrentAndMoveNext()

	assert.Empty(t, e.State().PlayHistory)
}

func TestFallbackInterruption(t *testing.T) {
	e := newEngineWith(mkFallback("fa"), mkFallback("fb"))
	r := record(e)

	e.AddSong(mkSong("real"))

	st := e.State()
	assert.Equal(t, []string{"real"}, ids(st.Songs))
	assert.Equal(t, -1, st.CurrentIndex)
	assert.Equal(t, []EventType{EventFallbackInterrupted, EventUpdate, EventSongAdded}, r.types())
}

func TestFallbackInterruptionTakesOverCurrent(t *testing.T) {
	e := newEngineWith(mkFallback("fa"), mkFallback("fb"))
	e.PlaySongAt(1)
	r := record(e)

	e.AddSong(mkSong("real"))

	st := e.State()
	assert.Equal(t, []string{"real"}, ids(st.Songs))
	assert.Equal(t, 0, st.CurrentIndex)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, []EventType{EventFallbackInterrupted, EventUpdate, EventSongAdded, EventCurrentChanged}, r.types())
}

func TestFallbackInterruptionKeepsRealCurrent(t *testing.T) {
	e := NewEngine()
	e.SetQueue([]Song{mkFallback("fa"), mkSong("s1"), mkFallback("fb"), mkSong("s2")})
	e.PlaySongAt(3)

	e.AddSong(mkSong("s3"))

	st := e.State()
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids(st.Songs))
	assert.Equal(t, 1, st.CurrentIndex)
	assert.Equal(t, "s2", e.CurrentSong().ID)
}

func TestFallbackDoesNotInterruptFallback(t *testing.T) {
	e := newEngineWith(mkFallback("fa"))
	r := record(e)

	e.AddSong(mkFallback("fb"))

	assert.Equal(t, []string{"fa", "fb"}, ids(e.State().Songs))
	assert.Zero(t, r.count(EventFallbackInterrupted))
}

func TestReorderQueue(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		from, to    int
		wantSongs   []string
		wantCurrent int
	}{
		{"move the current song", 1, 1, 3, []string{"s0", "s2", "s3", "s1"}, 3},
		{"cross current from below", 2, 0, 3, []string{"s1", "s2", "s3", "s0"}, 1},
		{"cross current from above", 1, 3, 0, []string{"s3", "s0", "s1", "s2"}, 2},
		{"land on current from below", 2, 0, 2, []string{"s1", "s2", "s0", "s3"}, 1},
		{"land on current from above", 1, 3, 1, []string{"s0", "s3", "s1", "s2"}, 2},
		{"not crossing", 0, 2, 3, []string{"s0", "s1", "s3", "s2"}, 0},
		{"nothing selected", -1, 3, 0, []string{"s3", "s0", "s1", "s2"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngineWith(mkSong("s0"), mkSong("s1"), mkSong("s2"), mkSong("s3"))
			var before *Song
			if tt.current >= 0 {
				before = e.PlaySongAt(tt.current)
			}
			moved := e.State().Songs[tt.from].ID
			r := record(e)

			require.True(t, e.ReorderQueue(tt.from, tt.to))

			st := e.State()
			assert.Equal(t, tt.wantSongs, ids(st.Songs))
			assert.Equal(t, moved, st.Songs[tt.to].ID)
			assert.Equal(t, tt.wantCurrent, st.CurrentIndex)
			if before != nil {
				assert.Equal(t, before.ID, e.CurrentSong().ID)
			}
			assert.Equal(t, []EventType{EventUpdate}, r.types())
		})
	}
}

func TestReorderQueueOutOfRange(t *testing.T) {
	e := newEngineWith(mkSong("s0"), mkSong("s1"))
	r := record(e)

	for _, c := range [][2]int{{-1, 0}, {0, 2}, {2, 0}, {0, -1}} {
		assert.False(t, e.ReorderQueue(c[0], c[1]))
	}
	assert.Equal(t, []string{"s0", "s1"}, ids(e.State().Songs))
	assert.Empty(t, r.events)
}

func TestClearQueue(t *testing.T) {
	e := newEngineWith(mkSong("s1"), mkSong("s2"))
	e.PlayNext()
	e.RemoveCurrentAndMoveNext()
	r := record(e)

	e.ClearQueue()

	st := e.State()
	assert.Empty(t, st.Songs)
	assert.Empty(t, st.PlayHistory)
	assert.Equal(t, -1, st.CurrentIndex)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, []EventType{EventUpdate}, r.types())

	e.ClearQueue()
	assert.Len(t, r.events, 2, "clearing an empty queue still announces it")
}

func TestSetQueue(t *testing.T) {
	e := newEngineWith(mkSong("old"))
	e.PlayNext()
	r := record(e)

	e.SetQueue([]Song{mkSong("p1"), mkSong("p2")})

	st := e.State()
	assert.Equal(t, []string{"p1", "p2"}, ids(st.Songs))
	assert.Equal(t, -1, st.CurrentIndex)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, []EventType{EventUpdate}, r.types())
}

func TestUnsubscribe(t *testing.T) {
	e := NewEngine()
	calls := 0
	unsubscribe := e.Subscribe(func(Event) { calls++ })
	assert.Equal(t, 1, e.ListenerCount())

	e.SetPlayingState(true)
	unsubscribe()
	e.SetPlayingState(false)

	assert.Equal(t, 2, calls)
	assert.Zero(t, e.ListenerCount())
}

func TestCurrentIndexInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := NewEngine()
	next := 0

	check := func(op string) {
		st := e.State()
		ok := st.CurrentIndex == -1 || (st.CurrentIndex >= 0 && st.CurrentIndex < len(st.Songs))
		require.True(t, ok, "after %s: index %d with %d songs", op, st.CurrentIndex, len(st.Songs))
		if len(st.Songs) == 0 {
			require.Equal(t, -1, st.CurrentIndex, "after %s", op)
		}
		require.LessOrEqual(t, len(st.PlayHistory), MaxHistory)
	}

	for i := 0; i < 5000; i++ {
		n := len(e.State().Songs)
		var op string
		switch rng.Intn(9) {
		case 0, 1:
			op = "add"
			next++
			s := mkSong(fmt.Sprint(next))
			s.IsFallback = rng.Intn(3) == 0
			e.AddSong(s)
		case 2:
			op = "remove"
			if n > 0 {
				e.RemoveSong(e.State().Songs[rng.Intn(n)].ID)
			}
		case 3:
			op = "next"
			e.PlayNext()
		case 4:
			op = "previous"
			e.PlayPrevious()
		case 5:
			op = "play_at"
			e.PlaySongAt(rng.Intn(n+2) - 1)
		case 6:
			op = "complete"
			e.RemoveCurrentAndMoveNext()
		case 7:
			op = "reorder"
			e.ReorderQueue(rng.Intn(n+1), rng.Intn(n+1))
		case 8:
			if rng.Intn(20) == 0 {
				op = "clear"
				e.ClearQueue()
			} else {
				op = "pause"
				e.SetPlayingState(rng.Intn(2) == 0)
			}
		}
		check(op)
	}
}

func TestConcurrentCallers(t *testing.T) {
	e := NewEngine()
	e.SetAutoRecommend(false)

	// listeners run under the engine lock, so plain counters are safe here
	events := 0
	e.Subscribe(func(Event) { events++ })

	const workers = 8
	const ops = 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < ops; i++ {
				switch rng.Intn(5) {
				case 0, 1:
					e.AddSong(mkSong(fmt.Sprintf("%d-%d", w, i)))
				case 2:
					e.PlayNext()
				case 3:
					e.RemoveCurrentAndMoveNext()
				case 4:
					st := e.State()
					if n := len(st.Songs); n > 0 {
						if rng.Intn(2) == 0 {
							e.ReorderQueue(rng.Intn(n), rng.Intn(n))
						} else {
							e.RemoveSong(st.Songs[rng.Intn(n)].ID)
						}
					}
				}

				st := e.State()
				valid := st.CurrentIndex == -1 || (st.CurrentIndex >= 0 && st.CurrentIndex < len(st.Songs))
				assert.True(t, valid, "index %d with %d songs", st.CurrentIndex, len(st.Songs))
			}
		}(w)
	}
	wg.Wait()

	st := e.State()
	if len(st.Songs) == 0 {
		assert.Equal(t, -1, st.CurrentIndex)
	} else {
		assert.Less(t, st.CurrentIndex, len(st.Songs))
	}
	assert.LessOrEqual(t, len(st.PlayHistory), MaxHistory)

	seen := map[string]bool{}
	for _, s := range st.Songs {
		assert.False(t, seen[s.ID], "song %s queued twice", s.ID)
		seen[s.ID] = true
	}
	assert.Positive(t, events)
}
