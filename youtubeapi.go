package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/samber/lo"

	"github.com/himanshub16/upnext-karaoke/queue"
)

const (
	maxSearchLimit     = 25
	recommendSeedDepth = 10
	musicCategoryID    = "10"
)

var (
	errYouTubeStatus = errors.New("youtube api error")
	isoDurationRe    = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)
)

// SearchResult is a single video offered to the singer.
type SearchResult struct {
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	ChannelTitle  string `json:"channelTitle"`
	Thumbnail     string `json:"thumbnail"`
	Duration      string `json:"duration"`
	Embeddable    bool   `json:"embeddable"`
	BlockedReason string `json:"blockedReason,omitempty"`
}

type SearchOptions struct {
	Query string
	// Mode is one of song, artist, genre or decade
	Mode  string
	Limit int
	// IncludeUnembeddable falls back to the configured default when nil
	IncludeUnembeddable *bool
	KaraokeOnly         bool
}

type thumbnail struct {
	URL string `json:"url"`
}

type snippet struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
	Thumbnails   struct {
		Default *thumbnail `json:"default"`
		Medium  *thumbnail `json:"medium"`
		High    *thumbnail `json:"high"`
	} `json:"thumbnails"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Status struct {
			Embeddable      *bool  `json:"embeddable"`
			RejectionReason string `json:"rejectionReason"`
			FailureReason   string `json:"failureReason"`
		} `json:"status"`
	} `json:"items"`
}

type videoInfo struct {
	embeddable    bool
	blockedReason string
	duration      string
	seconds       int64
}

// YouTubeClient talks to the youtube data api v3.
type YouTubeClient struct {
	baseURL string
	keys    *KeyRing
	client  *http.Client

	mu     sync.RWMutex
	search SearchConfig

	now  func() time.Time
	intn func(n int) int
}

func NewYouTubeClient(cfg YouTubeConfig, search SearchConfig, keys *KeyRing) *YouTubeClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YouTubeClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		keys:    keys,
		client:  &http.Client{Timeout: timeout},
		search:  search,
		now:     time.Now,
		intn:    rand.Intn,
	}
}

// UpdateSettings swaps the search settings, used on config reload.
func (y *YouTubeClient) UpdateSettings(search SearchConfig) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.search = search
}

func (y *YouTubeClient) settings() SearchConfig {
	y.mu.RLock()
	defer y.mu.RUnlock()
	return y.search
}

func (y *YouTubeClient) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	settings := y.settings()

	includeUnembeddable := settings.IncludeUnembeddableByDefault()
	if opts.IncludeUnembeddable != nil {
		includeUnembeddable = *opts.IncludeUnembeddable
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = clampLimit("", settings.MaxResults)
	}

	key, err := y.keys.Next()
	if err != nil {
		return nil, err
	}

	embeddable := "true"
	if includeUnembeddable {
		embeddable = "any"
	}
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", buildSearchQuery(opts.Query, opts.Mode, opts.KaraokeOnly))
	params.Set("type", "video")
	params.Set("videoEmbeddable", embeddable)
	params.Set("maxResults", strconv.Itoa(limit))
	params.Set("key", key)

	var resp searchResponse
	if err := y.get(ctx, "/search", params, &resp); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	details, err := y.videoDetails(ctx, key, ids)
	if err != nil {
		// the search itself worked; treat everything as embeddable
		log.Warnf("failed to fetch video details for embeddability check: %v", err)
		details = map[string]videoInfo{}
	}

	results := make([]SearchResult, 0, len(ids))
	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			continue
		}
		info, ok := details[item.ID.VideoID]
		if !ok {
			info = videoInfo{embeddable: true}
		}
		if info.duration == "" {
			info.duration = "0:00"
		}
		results = append(results, SearchResult{
			VideoID:       item.ID.VideoID,
			Title:         item.Snippet.Title,
			ChannelTitle:  item.Snippet.ChannelTitle,
			Thumbnail:     pickThumbnail(item.Snippet, true),
			Duration:      info.duration,
			Embeddable:    info.embeddable,
			BlockedReason: info.blockedReason,
		})
	}

	if !includeUnembeddable {
		results = lo.Filter(results, func(r SearchResult, _ int) bool {
			return r.Embeddable
		})
	}
	return results, nil
}

func (y *YouTubeClient) videoDetails(ctx context.Context, key string, ids []string) (map[string]videoInfo, error) {
	result := make(map[string]videoInfo)
	if len(ids) == 0 {
		return result, nil
	}

	params := url.Values{}
	params.Set("part", "contentDetails,status")
	params.Set("id", strings.Join(ids, ","))
	params.Set("key", key)

	var resp videosResponse
	if err := y.get(ctx, "/videos", params, &resp); err != nil {
		return nil, err
	}

	for _, item := range resp.Items {
		info := videoInfo{
			embeddable: item.Status.Embeddable == nil || *item.Status.Embeddable,
			duration:   isoToDuration(item.ContentDetails.Duration),
			seconds:    isoToSeconds(item.ContentDetails.Duration),
		}
		if !info.embeddable {
			info.blockedReason = item.Status.RejectionReason
			if info.blockedReason == "" {
				info.blockedReason = item.Status.FailureReason
			}
			if info.blockedReason == "" {
				info.blockedReason = "Not embeddable"
			}
		}
		result[item.ID] = info
	}
	return result, nil
}

// Recommend finds count songs similar to something from the recent play
// history. The songs are marked as fallback so that a real request
// replaces them.
func (y *YouTubeClient) Recommend(ctx context.Context, history []queue.Song, count int) ([]queue.Song, error) {
	if count <= 0 {
		count = 5
	}
	key, err := y.keys.First()
	if err != nil {
		return nil, err
	}

	query := "karaoke popular songs"
	if len(history) > 0 {
		recent := history[max(0, len(history)-recommendSeedDepth):]
		seed := recent[y.intn(len(recent))]
		log.Infof("getting recommendations based on: %s", seed.Title)
		query = fmt.Sprintf("%s %s karaoke", seed.Artist, seed.Title)
	} else {
		log.Info("no play history yet, using default karaoke search")
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", query)
	params.Set("type", "video")
	params.Set("videoCategoryId", musicCategoryID)
	params.Set("maxResults", strconv.Itoa(count))
	params.Set("safeSearch", "none")
	params.Set("key", key)

	var resp searchResponse
	if err := y.get(ctx, "/search", params, &resp); err != nil {
		return nil, fmt.Errorf("recommendations failed: %w", err)
	}

	now := y.now().UnixNano() / int64(time.Millisecond)
	songs := make([]queue.Song, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			continue
		}
		songs = append(songs, queue.Song{
			ID:         fmt.Sprintf("yt-fallback-%s-%d", item.ID.VideoID, now),
			VideoID:    item.ID.VideoID,
			Title:      item.Snippet.Title,
			Artist:     item.Snippet.ChannelTitle,
			Thumbnail:  pickThumbnail(item.Snippet, false),
			Source:     queue.SourceYouTube,
			AddedAt:    now,
			AddedBy:    "system",
			IsFallback: true,
		})
	}

	ids := lo.Map(songs, func(s queue.Song, _ int) string { return s.VideoID })
	details, err := y.videoDetails(ctx, key, ids)
	if err != nil {
		log.Warnf("failed to fetch durations for recommendations: %v", err)
		return songs, nil
	}
	for i := range songs {
		songs[i].Duration = details[songs[i].VideoID].seconds
	}
	return songs, nil
}

func (y *YouTubeClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = params.Encode()

	resp, err := y.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		log.Errorf("youtube api error: %d %s", resp.StatusCode, body)
		return fmt.Errorf("%w: %s", errYouTubeStatus, resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode youtube response: %w", err)
	}
	return nil
}

// pickThumbnail prefers the medium size for search results and the high
// one for recommendations.
func pickThumbnail(s snippet, medium bool) string {
	order := []*thumbnail{s.Thumbnails.High, s.Thumbnails.Default}
	if medium {
		order = []*thumbnail{s.Thumbnails.Medium, s.Thumbnails.High, s.Thumbnails.Default}
	}
	for _, t := range order {
		if t != nil && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

func buildSearchQuery(query, mode string, karaokeOnly bool) string {
	q := strings.TrimSpace(query)
	if !karaokeOnly {
		return q
	}
	switch mode {
	case "artist":
		return q + " karaoke songs"
	case "genre":
		return q + " karaoke playlist"
	case "decade":
		return q + " karaoke hits"
	default:
		return q + " karaoke"
	}
}

// clampLimit parses a requested result count, keeping it within 1..25.
func clampLimit(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		n = fallback
	}
	return max(1, min(n, maxSearchLimit))
}

func parseISODuration(iso string) (hours, minutes, seconds int64, ok bool) {
	m := isoDurationRe.FindStringSubmatch(iso)
	if m == nil {
		return 0, 0, 0, false
	}
	parts := make([]int64, 3)
	for i, s := range m[1:] {
		if s != "" {
			parts[i], _ = strconv.ParseInt(s, 10, 64)
		}
	}
	return parts[0], parts[1], parts[2], true
}

// isoToDuration turns PT1H2M3S into 1:02:03 and PT4M5S into 4:05.
func isoToDuration(iso string) string {
	h, m, s, ok := parseISODuration(iso)
	if !ok {
		return "0:00"
	}
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func isoToSeconds(iso string) int64 {
	h, m, s, _ := parseISODuration(iso)
	return h*3600 + m*60 + s
}
