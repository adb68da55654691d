// Package httpapi serves the published canonical record sets over a
// small read-only JSON API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/canonical"
	"horse.fit/sift/internal/globaltime"
)

const (
	defaultRecentDays = 7
	maxRecentDays     = 90
	maxArticleLimit   = 500
)

type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type Server struct {
	store  *canonical.Store
	logger zerolog.Logger
	opts   Options
}

type scopeSummary struct {
	Scope       string    `json:"scope"`
	LastUpdated time.Time `json:"last_updated"`
	Articles    int       `json:"articles"`
	Categories  int       `json:"categories"`
}

type recentBucket struct {
	Scope    string `json:"scope"`
	Articles int    `json:"articles"`
}

func NewServer(store *canonical.Store, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = ":8080"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{store: store, logger: logger, opts: opts}
}

func (s *Server) handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}
			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/scopes", s.handleScopes)
	api.GET("/scopes/:scope", s.handleScopeDetail)
	api.GET("/scopes/:scope/articles", s.handleScopeArticles)
	api.GET("/scopes/:scope/categories", s.handleScopeCategories)
	api.GET("/recent", s.handleRecent)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.handler()
	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("sift api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("sift api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "sift",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleScopes(c echo.Context) error {
	scopes, err := s.store.Scopes()
	if err != nil {
		s.logger.Error().Err(err).Msg("list scopes failed")
		return internalError(c, "Failed to list scopes")
	}

	summaries := make([]scopeSummary, 0, len(scopes))
	for _, scope := range scopes {
		snap, err := s.store.Load(scope)
		if err != nil {
			s.logger.Error().Err(err).Str("scope", scope).Msg("load scope failed")
			return internalError(c, "Failed to load scope")
		}
		summaries = append(summaries, scopeSummary{
			Scope:       scope,
			LastUpdated: snap.LastUpdated,
			Articles:    len(snap.Articles),
			Categories:  len(snap.Categories),
		})
	}
	return success(c, map[string]any{"scopes": summaries})
}

func (s *Server) loadScope(c echo.Context) (*canonical.Snapshot, error) {
	scope := c.Param("scope")
	if !canonical.ValidScope(scope) {
		return nil, failBadRequest(c, "Invalid scope name")
	}
	snap, err := s.store.Load(scope)
	if err != nil {
		s.logger.Error().Err(err).Str("scope", scope).Msg("load scope failed")
		return nil, internalError(c, "Failed to load scope")
	}
	if snap.LastUpdated.IsZero() && len(snap.Articles) == 0 {
		return nil, failNotFound(c, "Scope not found")
	}
	return snap, nil
}

func (s *Server) handleScopeDetail(c echo.Context) error {
	snap, errResp := s.loadScope(c)
	if snap == nil {
		return errResp
	}
	return success(c, scopeSummary{
		Scope:       snap.Scope,
		LastUpdated: snap.LastUpdated,
		Articles:    len(snap.Articles),
		Categories:  len(snap.Categories),
	})
}

func (s *Server) handleScopeArticles(c echo.Context) error {
	snap, errResp := s.loadScope(c)
	if snap == nil {
		return errResp
	}

	articles := snap.Articles
	if category := strings.TrimSpace(c.QueryParam("category")); category != "" {
		filtered := make([]article.Article, 0, len(articles))
		for _, a := range articles {
			if strings.EqualFold(a.Category, category) {
				filtered = append(filtered, a)
			}
		}
		articles = filtered
	}

	limit := maxArticleLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return failBadRequest(c, "limit must be a positive integer")
		}
		if n < limit {
			limit = n
		}
	}
	if len(articles) > limit {
		articles = articles[:limit]
	}

	return success(c, map[string]any{
		"scope":        snap.Scope,
		"last_updated": snap.LastUpdated,
		"articles":     articles,
	})
}

func (s *Server) handleScopeCategories(c echo.Context) error {
	snap, errResp := s.loadScope(c)
	if snap == nil {
		return errResp
	}
	return success(c, map[string]any{
		"scope":      snap.Scope,
		"categories": snap.Categories,
	})
}

// handleRecent reports how many canonical articles each scope gained in
// the trailing N days, by publish date.
func (s *Server) handleRecent(c echo.Context) error {
	days := defaultRecentDays
	if raw := strings.TrimSpace(c.QueryParam("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentDays {
			return failBadRequest(c, fmt.Sprintf("days must be between 1 and %d", maxRecentDays))
		}
		days = n
	}
	cutoff := globaltime.UTC().AddDate(0, 0, -days)

	scopes, err := s.store.Scopes()
	if err != nil {
		s.logger.Error().Err(err).Msg("list scopes failed")
		return internalError(c, "Failed to list scopes")
	}

	buckets := make([]recentBucket, 0, len(scopes))
	for _, scope := range scopes {
		snap, err := s.store.Load(scope)
		if err != nil {
			s.logger.Error().Err(err).Str("scope", scope).Msg("load scope failed")
			return internalError(c, "Failed to load scope")
		}
		count := 0
		for _, a := range snap.Articles {
			if !a.DatePublished.IsZero() && !a.DatePublished.Before(cutoff) {
				count++
			}
		}
		buckets = append(buckets, recentBucket{Scope: scope, Articles: count})
	}

	return success(c, map[string]any{
		"days":   days,
		"scopes": buckets,
	})
}
