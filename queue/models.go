// this file defines the data structures shared by the queue engine and its consumers
package queue

// MaxHistory is the number of finished songs kept in the play history.
const MaxHistory = 50

// SourceYouTube is the only provider songs come from.
const SourceYouTube = "youtube"

type Song struct {
	ID         string `json:"id"`
	VideoID    string `json:"videoId"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Duration   int64  `json:"duration"`
	Thumbnail  string `json:"thumbnail"`
	Source     string `json:"source"`
	AddedAt    int64  `json:"addedAt"`
	AddedBy    string `json:"addedBy,omitempty"`
	IsFallback bool   `json:"isFallback,omitempty"`
}

// QueueState is the whole playback state. Values handed out by the engine
// are copies and may be kept or modified freely by the caller.
type QueueState struct {
	Songs         []Song `json:"songs"`
	CurrentIndex  int    `json:"currentIndex"`
	IsPlaying     bool   `json:"isPlaying"`
	PlayHistory   []Song `json:"playHistory"`
	AutoRecommend bool   `json:"autoRecommend"`
}

func newQueueState() QueueState {
	return QueueState{
		Songs:         make([]Song, 0),
		CurrentIndex:  -1,
		IsPlaying:     false,
		PlayHistory:   make([]Song, 0),
		AutoRecommend: true,
	}
}

func (s QueueState) clone() QueueState {
	c := s
	c.Songs = append(make([]Song, 0, len(s.Songs)), s.Songs...)
	c.PlayHistory = append(make([]Song, 0, len(s.PlayHistory)), s.PlayHistory...)
	return c
}

// Current returns the song at CurrentIndex, or nil.
func (s QueueState) Current() *Song {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Songs) {
		return nil
	}
	song := s.Songs[s.CurrentIndex]
	return &song
}
