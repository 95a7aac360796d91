// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-repo-tracker/internal/apierrors"
	"github-repo-tracker/internal/model"
	"github-repo-tracker/internal/token"
	"github-repo-tracker/internal/tracker"
)

// Sessions hands out per-repository reconciliation sessions.
type Sessions interface {
	Track(fullName string, hintedID int64) (*tracker.Session, error)
}

// Searcher runs the stateless keyword search against the remote API.
type Searcher interface {
	SearchRepos(ctx context.Context, query string) ([]model.RepoSummary, error)
}

// Favorites is the store contract for the favorites and
// recently-opened lists.
type Favorites interface {
	ListFavorites(ctx context.Context) ([]model.RepoSummary, error)
	SaveFavorite(ctx context.Context, repo model.RepoSummary) error
	RemoveFavorite(ctx context.Context, id int64) error
	ListRecent(ctx context.Context) ([]model.RepoSummary, error)
	MarkOpened(ctx context.Context, repo model.RepoSummary) error
}

// Handler is the container for API dependencies.
type Handler struct {
	sessions  Sessions
	searcher  Searcher
	favorites Favorites
	tokens    token.Store
	logger    *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(sessions Sessions, searcher Searcher, favorites Favorites, tokens token.Store, logger *slog.Logger) http.Handler {
	h := &Handler{
		sessions:  sessions,
		searcher:  searcher,
		favorites: favorites,
		tokens:    tokens,
		logger:    logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos/{owner}/{name}", h.getDashboard)
		r.Post("/repos/{owner}/{name}/refresh", h.refreshRepo)
		r.Get("/search", h.searchRepos)
		r.Get("/favorites", h.listFavorites)
		r.Put("/favorites", h.putFavorite)
		r.Delete("/favorites/{id}", h.deleteFavorite)
		r.Get("/recent", h.listRecent)
		r.Put("/token", h.putToken)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dashboardResponse wraps a LoadResult with the derived flags a
// display layer keys on.
type dashboardResponse struct {
	tracker.LoadResult
	Offline bool `json:"offline"`
	Loading bool `json:"loading"`
}

// getDashboard returns the current published state for a repository,
// reconciling it first if this is the first sighting. An optional
// ?hint= query parameter carries the stable id for the cache fallback.
// GET /v1/repos/{owner}/{name}
func (h *Handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	session, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	res, published := session.Result()
	if !published {
		var err error
		res, err = session.Load(r.Context())
		if err != nil {
			respondWithError(w, http.StatusServiceUnavailable, "Request cancelled before load completed")
			return
		}
	}

	h.markOpened(r.Context(), res)
	respondWithJSON(w, http.StatusOK, dashboardResponse{
		LoadResult: res,
		Offline:    res.Offline(),
		Loading:    session.Loading(),
	})
}

// refreshRepo forces a network refresh and returns the new state.
// POST /v1/repos/{owner}/{name}/refresh
func (h *Handler) refreshRepo(w http.ResponseWriter, r *http.Request) {
	session, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	res, err := session.Refresh(r.Context())
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Request cancelled before refresh completed")
		return
	}
	respondWithJSON(w, http.StatusOK, dashboardResponse{
		LoadResult: res,
		Offline:    res.Offline(),
		Loading:    session.Loading(),
	})
}

func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request) (*tracker.Session, bool) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	var hintedID int64
	if hint := r.URL.Query().Get("hint"); hint != "" {
		parsed, err := strconv.ParseInt(hint, 10, 64)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'hint' parameter. Must be a positive integer.")
			return nil, false
		}
		hintedID = parsed
	}

	session, err := h.sessions.Track(fullName, hintedID)
	if err != nil {
		var formatErr *apierrors.InvalidRepoFormatError
		if errors.As(err, &formatErr) {
			respondWithError(w, http.StatusBadRequest, formatErr.Error())
			return nil, false
		}
		h.logger.Error("Failed to create session", "repo", fullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return session, true
}

// markOpened records the repo in the recently-opened list. Best
// effort: a storage hiccup must not fail the dashboard read.
func (h *Handler) markOpened(ctx context.Context, res tracker.LoadResult) {
	if res.Repo == nil {
		return
	}
	summary := model.RepoSummary{
		ID:          res.Repo.ID,
		FullName:    res.Repo.FullName,
		Description: res.Repo.Description,
		OwnerLogin:  res.Repo.Owner(),
		StarsCount:  res.Repo.StarsCount,
		URL:         res.Repo.URL,
	}
	if err := h.favorites.MarkOpened(ctx, summary); err != nil {
		h.logger.Warn("Failed to record recently opened repo", "repo", summary.FullName, "error", err)
	}
}

// searchRepos handles the stateless keyword search.
// GET /v1/search?q=term
func (h *Handler) searchRepos(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'q' parameter")
		return
	}

	results, err := h.searcher.SearchRepos(r.Context(), query)
	if err != nil {
		switch apierrors.KindOf(err) {
		case apierrors.KindRateLimited:
			respondWithError(w, http.StatusTooManyRequests, "Rate limit reached. Try again soon or add a token.")
		case apierrors.KindUnauthorized:
			respondWithError(w, http.StatusUnauthorized, "GitHub token missing or invalid")
		default:
			h.logger.Error("Search failed", "query", query, "error", err)
			respondWithError(w, http.StatusBadGateway, "Search failed. Check your connection.")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}

// GET /v1/favorites
func (h *Handler) listFavorites(w http.ResponseWriter, r *http.Request) {
	favorites, err := h.favorites.ListFavorites(r.Context())
	if err != nil {
		h.logger.Error("Failed to list favorites", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, favorites)
}

// PUT /v1/favorites
func (h *Handler) putFavorite(w http.ResponseWriter, r *http.Request) {
	var summary model.RepoSummary
	if err := json.NewDecoder(r.Body).Decode(&summary); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if summary.ID == 0 || summary.FullName == "" {
		respondWithError(w, http.StatusBadRequest, "Favorite requires id and full_name")
		return
	}

	if err := h.favorites.SaveFavorite(r.Context(), summary); err != nil {
		h.logger.Error("Failed to save favorite", "repo", summary.FullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// DELETE /v1/favorites/{id}
func (h *Handler) deleteFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid favorite id")
		return
	}

	if err := h.favorites.RemoveFavorite(r.Context(), id); err != nil {
		h.logger.Error("Failed to remove favorite", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/recent
func (h *Handler) listRecent(w http.ResponseWriter, r *http.Request) {
	recent, err := h.favorites.ListRecent(r.Context())
	if err != nil {
		h.logger.Error("Failed to list recent repos", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, recent)
}

// putToken rotates the GitHub credential; the next fetch uses it.
// PUT /v1/token
func (h *Handler) putToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must be {\"token\": \"...\"}")
		return
	}

	if err := h.tokens.Save(body.Token); err != nil {
		h.logger.Error("Failed to save token", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
