package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/labstack/gommon/log"

	"github.com/himanshub16/upnext-karaoke/queue"
)

// Recommender suggests songs to play when nobody has requested anything.
type Recommender interface {
	Recommend(ctx context.Context, history []queue.Song, count int) ([]queue.Song, error)
}

type Service interface {
	SavePlaylist(name string) (*Playlist, error)
	LoadPlaylist(name string) (*Playlist, error)
	ListPlaylists() ([]PlaylistSummary, error)
	Recommendations(ctx context.Context, count int) ([]queue.Song, error)
	close()
}

type ServiceImpl struct {
	engine       *queue.Engine
	playlistRepo PlaylistRepository
	recommender  Recommender

	cfgMutex sync.RWMutex
	cfg      RecommendationsConfig

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	fetching    int32
	unsubscribe func()
}

func NewService(engine *queue.Engine, repo PlaylistRepository, recommender Recommender, cfg RecommendationsConfig) *ServiceImpl {
	ctx, cancel := context.WithCancel(context.Background())
	return &ServiceImpl{
		engine:       engine,
		playlistRepo: repo,
		recommender:  recommender,
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start makes the service refill the queue with recommendations whenever
// it runs dry.
func (s *ServiceImpl) Start() {
	s.unsubscribe = s.engine.Subscribe(s.onEvent)
}

// onEvent runs with the engine locked, so the work happens elsewhere.
func (s *ServiceImpl) onEvent(ev queue.Event) {
	if ev.Type != queue.EventQueueEmpty {
		return
	}
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go s.fillQueue()
}

func (s *ServiceImpl) fillQueue() {
	defer s.wg.Done()

	// one fetch at a time; a second exhaustion while fetching is covered
	// by the songs already on their way
	if !atomic.CompareAndSwapInt32(&s.fetching, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.fetching, 0)

	state := s.engine.State()
	if !state.AutoRecommend {
		return
	}
	cfg := s.recommendationsConfig()

	songs, err := s.recommender.Recommend(s.ctx, state.PlayHistory, cfg.Count)
	if err != nil {
		log.Errorf("failed to fetch recommendations: %v", err)
		return
	}
	if s.ctx.Err() != nil || len(songs) == 0 {
		return
	}

	if len(s.engine.State().Songs) > 0 {
		log.Infof("queue refilled while fetching recommendations, dropping %d of them", len(songs))
		return
	}
	for _, song := range songs {
		s.engine.AddSong(song)
	}
	log.Infof("added %d recommended songs", len(songs))

	if cfg.Autoplay && s.engine.CurrentSong() == nil {
		s.engine.PlaySongAt(0)
	}
}

func (s *ServiceImpl) recommendationsConfig() RecommendationsConfig {
	s.cfgMutex.RLock()
	defer s.cfgMutex.RUnlock()
	return s.cfg
}

// UpdateRecommendations swaps the recommendation settings on config reload.
func (s *ServiceImpl) UpdateRecommendations(cfg RecommendationsConfig) {
	s.cfgMutex.Lock()
	defer s.cfgMutex.Unlock()
	s.cfg = cfg
}

// Recommendations returns candidates based on the play history without
// queueing them.
func (s *ServiceImpl) Recommendations(ctx context.Context, count int) ([]queue.Song, error) {
	if count <= 0 {
		count = s.recommendationsConfig().Count
	}
	return s.recommender.Recommend(ctx, s.engine.State().PlayHistory, count)
}

// SavePlaylist stores the current queue under name.
func (s *ServiceImpl) SavePlaylist(name string) (*Playlist, error) {
	return s.playlistRepo.SavePlaylist(name, s.engine.State().Songs)
}

// LoadPlaylist replaces the queue with the songs of the named playlist.
func (s *ServiceImpl) LoadPlaylist(name string) (*Playlist, error) {
	p, err := s.playlistRepo.LoadPlaylist(name)
	if err != nil {
		return nil, err
	}
	s.engine.SetQueue(p.Songs)
	log.Infof("loaded playlist %s with %d songs", p.Name, len(p.Songs))
	return p, nil
}

func (s *ServiceImpl) ListPlaylists() ([]PlaylistSummary, error) {
	return s.playlistRepo.ListPlaylists()
}

func (s *ServiceImpl) close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
	s.playlistRepo.close()
}
