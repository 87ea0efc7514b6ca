package main

// this file contains implementation of HTTP handlers - REST API

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/labstack/gommon/log"

	"github.com/himanshub16/upnext-karaoke/master"
	"github.com/himanshub16/upnext-karaoke/queue"
)

const (
	masterCookie       = "kara_master_player"
	masterHeader       = "x-master-token"
	masterCookieMaxAge = 60 * 60 * 24
)

// Searcher finds videos for the search page.
type Searcher interface {
	Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error)
}

type server struct {
	engine   *queue.Engine
	master   *master.Arbiter
	service  Service
	searcher Searcher

	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewHTTPRouter(engine *queue.Engine, arbiter *master.Arbiter, socket http.Handler,
	service Service, searcher Searcher, auth AuthConfig) *echo.Echo {

	s := &server{
		engine:    engine,
		master:    arbiter,
		service:   service,
		searcher:  searcher,
		jwtSecret: []byte(auth.JWTSecret),
		tokenTTL:  time.Duration(auth.TokenTTLHours) * time.Hour,
	}

	r := echo.New()
	r.HideBanner = true
	r.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}\n",
	}))
	r.Use(middleware.Recover())
	r.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAuthorization, masterHeader},
		ExposeHeaders: []string{masterHeader},
		MaxAge:        86400,
	}))

	requireDevice := middleware.JWT(s.jwtSecret)

	router := r.Group("/api")
	router.GET("/health", healthCheckHandler)
	router.POST("/login", s.loginHandler)

	router.GET("/queue", s.getQueueHandler)
	router.POST("/queue", s.addSongHandler, requireDevice)
	router.DELETE("/queue", s.clearQueueHandler, s.requireMaster)
	router.DELETE("/queue/:id", s.removeSongHandler, requireDevice)

	router.POST("/playback", s.playbackHandler, s.requireMaster)

	router.GET("/settings", s.getSettingsHandler)
	router.POST("/settings", s.updateSettingsHandler)

	router.GET("/master", s.getMasterHandler)
	router.POST("/master", s.updateMasterHandler)

	router.GET("/playlists", s.listPlaylistsHandler)
	router.POST("/playlists", s.playlistHandler)

	router.GET("/search", s.searchHandler)
	router.POST("/recommendations", s.recommendationsHandler)

	router.GET("/socket", echo.WrapHandler(socket))

	return r
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, echo.Map{
		"error": message,
	})
}

func healthCheckHandler(c echo.Context) error {
	return c.String(http.StatusOK, "I am up and running!")
}

func (s *server) loginHandler(c echo.Context) error {
	form := struct {
		DeviceID string `json:"device_id" form:"device_id"`
	}{}
	if err := c.Bind(&form); err != nil {
		log.Debugf("login without body: %v", err)
	}
	if form.DeviceID == "" {
		form.DeviceID = uuid.New().String()
	}

	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["device_id"] = form.DeviceID
	claims["exp"] = time.Now().Add(s.tokenTTL).Unix()
	t, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token":     t,
		"device_id": form.DeviceID,
	})
}

func getDeviceIDFromContext(c echo.Context) string {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	id, _ := claims["device_id"].(string)
	return id
}

func masterTokenFromRequest(c echo.Context) string {
	if token := c.Request().Header.Get(masterHeader); token != "" {
		return token
	}
	if cookie, err := c.Cookie(masterCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func setMasterToken(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:   masterCookie,
		Value:  token,
		Path:   "/",
		MaxAge: masterCookieMaxAge,
	})
	c.Response().Header().Set(masterHeader, token)
}

func clearMasterToken(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:   masterCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// requireMaster lets the request through when the caller may control
// playback. A caller that just became master gets its token back.
func (s *server) requireMaster(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := s.master.Authorize(masterTokenFromRequest(c))
		if !res.Allowed {
			return c.JSON(http.StatusConflict, echo.Map{
				"error":  "Master is locked",
				"locked": true,
			})
		}
		if res.NewToken != "" {
			setMasterToken(c, res.NewToken)
		}
		return next(c)
	}
}

func (s *server) getQueueHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.State())
}

func (s *server) addSongHandler(c echo.Context) error {
	song := queue.Song{}
	if err := c.Bind(&song); err != nil || song.VideoID == "" || song.Title == "" {
		return errorJSON(c, http.StatusBadRequest, "Invalid song data")
	}

	song.ID = uuid.New().String()
	song.Source = queue.SourceYouTube
	song.AddedAt = stamp(time.Now())
	song.AddedBy = getDeviceIDFromContext(c)
	song.IsFallback = false

	s.engine.AddSong(song)
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"song":    song,
	})
}

func (s *server) clearQueueHandler(c echo.Context) error {
	s.engine.ClearQueue()
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
	})
}

// removeSongHandler lets a device take back its own request. Anyone else
// needs to be allowed to act as master.
func (s *server) removeSongHandler(c echo.Context) error {
	deviceID := getDeviceIDFromContext(c)
	token := masterTokenFromRequest(c)

	var auth master.AuthResult
	removed, found := s.engine.RemoveSongIf(c.Param("id"), func(song queue.Song) bool {
		if deviceID != "" && song.AddedBy == deviceID {
			return true
		}
		auth = s.master.Authorize(token)
		return auth.Allowed
	})

	if !found {
		return errorJSON(c, http.StatusNotFound, "Song not found")
	}
	if removed == nil {
		return c.JSON(http.StatusForbidden, echo.Map{
			"error":  "Not allowed to remove this song",
			"locked": auth.Locked,
		})
	}
	if auth.NewToken != "" {
		setMasterToken(c, auth.NewToken)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"song":    removed,
	})
}

func (s *server) playbackHandler(c echo.Context) error {
	form := struct {
		Action    string `json:"action"`
		Index     *int   `json:"index"`
		FromIndex *int   `json:"fromIndex"`
		ToIndex   *int   `json:"toIndex"`
	}{}
	if err := c.Bind(&form); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid action")
	}

	var song *queue.Song
	switch form.Action {
	case "next":
		song = s.engine.PlayNext()
	case "previous":
		song = s.engine.PlayPrevious()
	case "play":
		s.engine.SetPlayingState(true)
		song = s.engine.CurrentSong()
	case "pause":
		s.engine.SetPlayingState(false)
		song = s.engine.CurrentSong()
	case "play_at":
		if form.Index == nil {
			return errorJSON(c, http.StatusBadRequest, "index required")
		}
		song = s.engine.PlaySongAt(*form.Index)
	case "complete", "skip":
		song = s.engine.RemoveCurrentAndMoveNext()
	case "reorder":
		if form.FromIndex == nil || form.ToIndex == nil {
			return errorJSON(c, http.StatusBadRequest, "fromIndex and toIndex required")
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success": s.engine.ReorderQueue(*form.FromIndex, *form.ToIndex),
		})
	default:
		return errorJSON(c, http.StatusBadRequest, "Invalid action")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"song":    song,
	})
}

func (s *server) getSettingsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"autoRecommend": s.engine.AutoRecommend(),
	})
}

func (s *server) updateSettingsHandler(c echo.Context) error {
	form := struct {
		AutoRecommend *bool `json:"autoRecommend"`
	}{}
	if err := c.Bind(&form); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid settings")
	}
	if form.AutoRecommend != nil {
		s.engine.SetAutoRecommend(*form.AutoRecommend)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"autoRecommend": s.engine.AutoRecommend(),
	})
}

type masterResponse struct {
	master.View
	AutoRecommend bool `json:"autoRecommend"`
}

func (s *server) getMasterHandler(c echo.Context) error {
	if deviceID := c.QueryParam("deviceId"); deviceID != "" {
		s.master.UpdateClient(deviceID, "")
	}

	view := s.master.State(masterTokenFromRequest(c))
	if view.YouAreMaster && view.MasterToken != nil {
		setMasterToken(c, *view.MasterToken)
	}
	return c.JSON(http.StatusOK, masterResponse{
		View:          view,
		AutoRecommend: s.engine.AutoRecommend(),
	})
}

func (s *server) updateMasterHandler(c echo.Context) error {
	form := struct {
		Action        string `json:"action"`
		Label         string `json:"label"`
		Lock          bool   `json:"lock"`
		AutoRecommend *bool  `json:"autoRecommend"`
	}{}
	if err := c.Bind(&form); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid action")
	}

	if form.AutoRecommend != nil {
		s.engine.SetAutoRecommend(*form.AutoRecommend)
		return c.JSON(http.StatusOK, echo.Map{
			"success":       true,
			"autoRecommend": *form.AutoRecommend,
		})
	}

	token := masterTokenFromRequest(c)
	switch form.Action {
	case "claim":
		res := s.master.Claim(token, form.Label, form.Lock)
		if !res.Success {
			return c.JSON(http.StatusConflict, echo.Map{
				"error":  "Master is locked",
				"locked": true,
			})
		}
		setMasterToken(c, res.Token)
		log.Infof("master claimed by %q (locked: %v)", form.Label, res.Locked)
		return c.JSON(http.StatusOK, res)

	case "release":
		if !s.master.Release(token).Success {
			return errorJSON(c, http.StatusForbidden, "Not master")
		}
		clearMasterToken(c)
		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
		})

	case "lock", "unlock":
		res := s.master.Lock(token)
		if form.Action == "unlock" {
			res = s.master.Unlock(token)
		}
		if !res.Success {
			return errorJSON(c, http.StatusForbidden, "Not master")
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"locked":  res.Locked,
		})

	default:
		return errorJSON(c, http.StatusBadRequest, "Invalid action")
	}
}

func (s *server) listPlaylistsHandler(c echo.Context) error {
	list, err := s.service.ListPlaylists()
	if err != nil {
		log.Errorf("failed to list playlists: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Playlist operation failed")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"playlists": list,
	})
}

func (s *server) playlistHandler(c echo.Context) error {
	form := struct {
		Action string `json:"action"`
		Name   string `json:"name"`
	}{}
	if err := c.Bind(&form); err != nil || form.Action == "" || form.Name == "" {
		return errorJSON(c, http.StatusBadRequest, "action and name required")
	}

	switch form.Action {
	case "save":
		p, err := s.service.SavePlaylist(form.Name)
		if err != nil {
			log.Errorf("failed to save playlist %s: %v", form.Name, err)
			return errorJSON(c, http.StatusInternalServerError, "Playlist operation failed")
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"playlist": PlaylistSummary{
				Name:      p.Name,
				UpdatedAt: p.UpdatedAt,
				Count:     len(p.Songs),
			},
		})

	case "load":
		p, err := s.service.LoadPlaylist(form.Name)
		if errors.Is(err, ErrPlaylistNotFound) {
			return errorJSON(c, http.StatusNotFound, "Playlist not found")
		}
		if err != nil {
			log.Errorf("failed to load playlist %s: %v", form.Name, err)
			return errorJSON(c, http.StatusInternalServerError, "Playlist operation failed")
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"playlist": echo.Map{
				"name":  p.Name,
				"count": len(p.Songs),
			},
		})

	default:
		return errorJSON(c, http.StatusBadRequest, "Invalid action")
	}
}

func (s *server) searchHandler(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return errorJSON(c, http.StatusBadRequest, "Query parameter required")
	}

	opts := SearchOptions{
		Query:       q,
		Mode:        c.QueryParam("mode"),
		KaraokeOnly: c.QueryParam("karaokeOnly") != "false",
	}
	if opts.Mode == "" {
		opts.Mode = "song"
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if _, err := strconv.Atoi(raw); err == nil {
			opts.Limit = clampLimit(raw, 0)
		}
	}
	switch c.QueryParam("includeUnembeddable") {
	case "true":
		include := true
		opts.IncludeUnembeddable = &include
	case "false":
		include := false
		opts.IncludeUnembeddable = &include
	}

	results, err := s.searcher.Search(c.Request().Context(), opts)
	if err != nil {
		log.Errorf("search error: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to search YouTube")
	}
	return c.JSON(http.StatusOK, results)
}

func (s *server) recommendationsHandler(c echo.Context) error {
	form := struct {
		Count int `json:"count"`
	}{}
	if err := c.Bind(&form); err != nil {
		log.Debugf("recommendations without body: %v", err)
	}

	songs, err := s.service.Recommendations(c.Request().Context(), form.Count)
	if errors.Is(err, ErrNoAPIKeys) {
		return errorJSON(c, http.StatusInternalServerError, "YouTube API key not configured")
	}
	if err != nil {
		log.Errorf("recommendations error: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to generate recommendations")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"recommendations": songs,
	})
}
