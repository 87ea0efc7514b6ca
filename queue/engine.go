// this file deals with the global playback state of the party
package queue

import (
	"sync"

	"github.com/labstack/gommon/log"
	"github.com/samber/lo"
)

// Engine owns the queue and is the only thing allowed to change it.
// Every successful mutation emits EventUpdate followed by the events
// specific to that mutation.
type Engine struct {
	mu    sync.Mutex
	state QueueState

	listeners      []listenerEntry
	nextListenerID int
}

func NewEngine() *Engine {
	return &Engine{
		state:     newQueueState(),
		listeners: make([]listenerEntry, 0),
	}
}

// State returns a copy of the current state.
func (e *Engine) State() QueueState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// View calls fn with a copy of the state while no mutation can run.
func (e *Engine) View(fn func(QueueState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state.clone())
}

func (e *Engine) SetAutoRecommend(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.AutoRecommend = enabled
}

func (e *Engine) AutoRecommend() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.AutoRecommend
}

// AddSong appends song to the queue. A song requested by a person
// cancels all auto-recommended songs that are still queued.
func (e *Engine) AddSong(song Song) {
	e.mu.Lock()
	defer e.mu.Unlock()

	takeover := false
	if !song.IsFallback && lo.SomeBy(e.state.Songs, isFallback) {
		takeover = e.dropFallbacks()
		e.emit(EventFallbackInterrupted, nil)
	}

	e.state.Songs = append(e.state.Songs, song)
	if takeover {
		e.state.CurrentIndex = len(e.state.Songs) - 1
	}
	log.Debugf("song added: %s, total: %d, current: %d", song.Title, len(e.state.Songs), e.state.CurrentIndex)

	e.emitUpdate()
	e.emit(EventSongAdded, song)
	if takeover {
		e.emit(EventCurrentChanged, song)
	}
}

// dropFallbacks removes every fallback song and re-points CurrentIndex at
// the song that was current before. It reports whether the current song
// was one of the removed ones.
func (e *Engine) dropFallbacks() bool {
	current := e.state.Current()
	e.state.Songs = lo.Reject(e.state.Songs, func(s Song, _ int) bool {
		return s.IsFallback
	})

	if current == nil {
		return false
	}
	if current.IsFallback {
		e.state.CurrentIndex = -1
		return true
	}
	_, idx, _ := lo.FindIndexOf(e.state.Songs, func(s Song) bool {
		return s.ID == current.ID
	})
	e.state.CurrentIndex = idx
	return false
}

// RemoveSong removes the song with the given id. It reports false if no
// such song is queued.
func (e *Engine) RemoveSong(id string) bool {
	removed, _ := e.RemoveSongIf(id, nil)
	return removed != nil
}

// RemoveSongIf removes the song with the given id when allow approves it.
// found is false when no song has that id; a nil song with found set means
// allow refused the removal.
func (e *Engine) RemoveSongIf(id string, allow func(Song) bool) (removed *Song, found bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	song, index, ok := lo.FindIndexOf(e.state.Songs, func(s Song) bool {
		return s.ID == id
	})
	if !ok {
		return nil, false
	}
	if allow != nil && !allow(song) {
		return nil, true
	}

	e.state.Songs = append(e.state.Songs[:index], e.state.Songs[index+1:]...)
	if index <= e.state.CurrentIndex {
		e.state.CurrentIndex--
	}

	e.emitUpdate()
	e.emit(EventSongRemoved, song)
	return &song, true
}

func (e *Engine) PlayNext() *Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectLocked(e.state.CurrentIndex + 1)
}

func (e *Engine) PlayPrevious() *Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectLocked(e.state.CurrentIndex - 1)
}

func (e *Engine) PlaySongAt(index int) *Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectLocked(index)
}

func (e *Engine) selectLocked(index int) *Song {
	if index < 0 || index >= len(e.state.Songs) {
		return nil
	}
	e.state.CurrentIndex = index
	e.state.IsPlaying = true
	song := e.state.Songs[index]

	e.emitUpdate()
	e.emit(EventCurrentChanged, song)
	return &song
}

func (e *Engine) SetPlayingState(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.IsPlaying = playing
	e.emitUpdate()
	e.emit(EventPlaybackState, playing)
}

// RemoveCurrentAndMoveNext is called when the current song finished or was
// skipped. The song is moved to the play history and the one behind it
// becomes current. It returns the new current song, if any.
func (e *Engine) RemoveCurrentAndMoveNext() *Song {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.state.Current()
	if current == nil {
		log.Debug("no current song to remove")
		return nil
	}

	if !current.IsFallback {
		e.state.PlayHistory = append(e.state.PlayHistory, *current)
		if n := len(e.state.PlayHistory); n > MaxHistory {
			e.state.PlayHistory = e.state.PlayHistory[n-MaxHistory:]
		}
	}

	i := e.state.CurrentIndex
	e.state.Songs = append(e.state.Songs[:i], e.state.Songs[i+1:]...)

	if e.state.CurrentIndex >= len(e.state.Songs) {
		e.state.CurrentIndex = -1
		e.state.IsPlaying = false
		if e.state.AutoRecommend {
			log.Infof("queue exhausted, history has %d songs", len(e.state.PlayHistory))
			e.emit(EventQueueEmpty, nil)
		}
	}

	e.emitUpdate()
	e.emit(EventSongRemoved, *current)

	next := e.state.Current()
	if next != nil {
		e.emit(EventCurrentChanged, *next)
	}
	return next
}

// SkipCurrent drops the current song exactly like a finished one.
func (e *Engine) SkipCurrent() *Song {
	return e.RemoveCurrentAndMoveNext()
}

// ReorderQueue moves the song at from to position to, keeping the
// current song selected.
func (e *Engine) ReorderQueue(from, to int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.state.Songs)
	if from < 0 || from >= n || to < 0 || to >= n {
		return false
	}

	song := e.state.Songs[from]
	songs := append(e.state.Songs[:from:from], e.state.Songs[from+1:]...)
	songs = append(songs[:to], append([]Song{song}, songs[to:]...)...)
	e.state.Songs = songs

	cur := e.state.CurrentIndex
	switch {
	case cur == from:
		e.state.CurrentIndex = to
	case from < cur && to >= cur:
		e.state.CurrentIndex--
	case from > cur && to <= cur:
		e.state.CurrentIndex++
	}

	e.emitUpdate()
	return true
}

// ClearQueue empties the queue and the play history.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.emitUpdate()
}

// SetQueue replaces the queue with songs, as if it had been cleared and
// the songs added one by one, but with a single update.
func (e *Engine) SetQueue(songs []Song) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.state.Songs = append(e.state.Songs, songs...)
	e.emitUpdate()
}

func (e *Engine) resetLocked() {
	e.state.Songs = make([]Song, 0)
	e.state.CurrentIndex = -1
	e.state.IsPlaying = false
	e.state.PlayHistory = make([]Song, 0)
}

func (e *Engine) CurrentSong() *Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Current()
}

func isFallback(s Song) bool {
	return s.IsFallback
}
