package lib

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	captcha "github.com/habuha/captcha"
	"github.com/habuha/captcha/internal"
	"github.com/habuha/captcha/lib/challenge"
	"github.com/habuha/captcha/lib/render"
	"github.com/habuha/captcha/lib/store"
	"github.com/habuha/captcha/web"
)

// API routes. Challenge failures are payload-level outcomes with HTTP 200;
// only admission refusal (429), bad requests (400), missing assets (404) and
// collaborator failures (500) use non-200 codes.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/challenge", s.handleIssue)
	mux.HandleFunc("GET /api/image/{kind}", s.handleImage)
	mux.HandleFunc("POST /api/check-click", s.handleCheckClick)
	mux.HandleFunc("POST /api/verify", s.handleVerify)

	mux.Handle("GET /static/", http.FileServerFS(web.Static))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, web.Static, "static/index.html")
	})

	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	variant := r.URL.Query().Get("variant")
	if variant == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "variant is required"})
		return
	}

	result, err := s.Issue(r.Context(), lg, internal.ClientIdentity(r), variant)
	switch {
	case errors.Is(err, ErrRateLimited):
		respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many challenge requests, slow down"})
		return
	case errors.Is(err, ErrUnknownVariant):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown challenge variant"})
		return
	case errors.Is(err, render.ErrUnavailable):
		lg.Error("image synthesis failed", "err", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "can't render challenge, try again later"})
		return
	case err != nil:
		lg.Error("can't issue challenge", "err", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	id := r.URL.Query().Get("id")

	if id == "" || (kind != render.KindBackground && kind != render.KindOverlay) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	data, ctype, err := s.Asset(r.Context(), id, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		internal.GetRequestLogger(r).Error("can't fetch asset", "id", id, "kind", kind, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

type checkClickRequest struct {
	ID string `json:"id"`
	X  int    `json:"x"`
	Y  int    `json:"y"`
}

type checkClickResponse struct {
	Hit     bool   `json:"hit"`
	Glyph   string `json:"glyph,omitempty"`
	CenterX int    `json:"centerX,omitempty"`
	CenterY int    `json:"centerY,omitempty"`
}

func (s *Server) handleCheckClick(w http.ResponseWriter, r *http.Request) {
	var req checkClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	region, ok := s.CheckClick(r.Context(), req.ID, req.X, req.Y)
	if !ok {
		respondJSON(w, http.StatusOK, checkClickResponse{Hit: false})
		return
	}

	respondJSON(w, http.StatusOK, checkClickResponse{
		Hit:     true,
		Glyph:   region.Glyph,
		CenterX: region.CenterX,
		CenterY: region.CenterY,
	})
}

type verifyRequest struct {
	ID         string               `json:"id"`
	Submission challenge.Submission `json:"submission"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	result, err := s.Verify(r.Context(), lg, internal.ClientIdentity(r), req.ID, &req.Submission)
	if err != nil {
		lg.Error("can't verify challenge", "err", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if result.Status == StatusSuccess {
		http.SetCookie(w, &http.Cookie{
			Name:     captcha.PassCookieName,
			Value:    result.PassToken,
			Expires:  time.Now().Add(s.opts.PassTokenExpiration),
			SameSite: http.SameSiteLaxMode,
			HttpOnly: true,
			Path:     "/",
		})
	}

	respondJSON(w, http.StatusOK, result)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Healthz reports process liveness for the metrics listener.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Length", strconv.Itoa(len("OK")))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
