// Package tracking serves the public open/click endpoints and mirrors
// campaign events to SQS.
package tracking

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-dispatch/internal/mailing"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
)

// 1x1 fully transparent PNG
var pixelPNG = func() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// Engagement records opens and clicks. *mailing.Tracker implements it.
type Engagement interface {
	HandleOpen(ctx context.Context, token string) error
	HandleClick(ctx context.Context, token, target string) error
}

type Handler struct {
	engagement      Engagement
	defaultRedirect string
}

// NewHandler creates the tracking handler. defaultRedirect is used when a
// click carries no usable destination.
func NewHandler(engagement Engagement, defaultRedirect string) *Handler {
	return &Handler{engagement: engagement, defaultRedirect: defaultRedirect}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register adds the tracking and health routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/track/open/{file}", h.HandleOpen)
	r.Get("/track/click/{token}", h.HandleClick)
	r.Get("/health", h.HandleHealth)
}

// HandleOpen always answers with the pixel. Tracking failures are only logged.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSuffix(chi.URLParam(r, "file"), ".png")
	if token != "" {
		if err := h.engagement.HandleOpen(context.WithoutCancel(r.Context()), token); err != nil {
			if mailing.IsUnknownToken(err) {
				log.Printf("OPEN unknown token ip=%s", realIP(r))
			} else {
				log.Printf("ERROR recording open: %v", err)
			}
		}
	}
	h.servePixel(w)
}

// HandleClick records the click and redirects. The redirect happens even
// when recording fails.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	target := r.URL.Query().Get("url")
	if !isHTTPURL(target) {
		target = h.defaultRedirect
	}
	if !isHTTPURL(target) {
		httputil.BadRequest(w, "invalid redirect url")
		return
	}

	if err := h.engagement.HandleClick(context.WithoutCancel(r.Context()), token, target); err != nil {
		if mailing.IsUnknownToken(err) {
			log.Printf("CLICK unknown token ip=%s", realIP(r))
		} else {
			log.Printf("ERROR recording click: %v", err)
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelPNG)
}

func isHTTPURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
