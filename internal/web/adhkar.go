package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relabs-tech/qibla_compass/internal/adhkar"
)

type categorySummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Count int    `json:"count"`
}

func (s *Server) catalog(w http.ResponseWriter) (*adhkar.Catalog, bool) {
	if s.Adhkar == nil {
		writeError(w, http.StatusServiceUnavailable, "adhkar catalog not loaded")
		return nil, false
	}
	return s.Adhkar, true
}

func (s *Server) getAdhkarCategories(w http.ResponseWriter, _ *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	out := make([]categorySummary, 0, len(c.Categories))
	for _, cat := range c.Categories {
		out = append(out, categorySummary{ID: cat.ID, Title: cat.Title, Count: len(cat.Adhkar)})
	}
	writeJSON(w, http.StatusOK, out)
}

// adhkarItem adds the share text to an item.
type adhkarItem struct {
	adhkar.Item
	Share string `json:"share"`
}

func (s *Server) getAdhkarCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	cat, err := c.Category(chi.URLParam(r, "category"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	items := make([]adhkarItem, 0, len(cat.Adhkar))
	for _, it := range cat.Adhkar {
		items = append(items, adhkarItem{Item: it, Share: it.ShareText()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     cat.ID,
		"title":  cat.Title,
		"adhkar": items,
	})
}

func (s *Server) getDaily(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	t := s.now()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, v, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		t = parsed
	}
	writeJSON(w, http.StatusOK, c.DailyFor(t))
}
