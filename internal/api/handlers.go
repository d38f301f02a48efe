package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// OwnerHeader carries the authenticated owner id, set by the upstream auth
// layer. Requests without it skip the ownership check.
const OwnerHeader = "X-Owner-ID"

// CampaignHandlers exposes the campaign control operations.
type CampaignHandlers struct {
	svc *campaign.Service
}

func NewCampaignHandlers(svc *campaign.Service) *CampaignHandlers {
	return &CampaignHandlers{svc: svc}
}

type campaignResponse struct {
	Campaign *domain.Campaign `json:"campaign"`
	Running  bool             `json:"running"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type scheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"`
}

type scheduleResponse struct {
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OwnerHeader))
}

// HandleGet returns the campaign and whether this process is sending it.
//
//	GET /api/campaigns/{id}
func (h *CampaignHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.svc.Get(r.Context(), ownerID(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, campaignResponse{Campaign: c, Running: h.svc.Running(id)})
}

// HandleDispatch starts the send loop. ?force=true also sends paused,
// failed and completed campaigns.
//
//	POST /api/campaigns/{id}/dispatch
func (h *CampaignHandlers) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "force must be a boolean")
			return
		}
		force = b
	}
	res, err := h.svc.Dispatch(r.Context(), ownerID(r), chi.URLParam(r, "id"), force)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, statusResponse{Status: string(res)})
}

// HandleResume continues a paused or failed campaign.
//
//	POST /api/campaigns/{id}/resume
func (h *CampaignHandlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resume(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, statusResponse{Status: string(res)})
}

// HandlePause stops a running loop or parks an idle scheduled campaign.
//
//	POST /api/campaigns/{id}/pause
func (h *CampaignHandlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Pause(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, statusResponse{Status: string(res)})
}

// HandleSchedule sets the campaign to start at scheduled_at (RFC 3339).
//
//	POST /api/campaigns/{id}/schedule
func (h *CampaignHandlers) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ScheduledAt == "" {
		httputil.BadRequest(w, "scheduled_at is required")
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		httputil.BadRequest(w, "scheduled_at must be an RFC 3339 timestamp")
		return
	}
	if err := h.svc.Schedule(r.Context(), ownerID(r), chi.URLParam(r, "id"), at); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, scheduleResponse{Status: string(domain.CampaignScheduled), ScheduledAt: at.UTC()})
}

// HandleDelete removes an idle campaign. A running one is asked to stop
// and the request answers 409; retry once it has exited.
//
//	DELETE /api/campaigns/{id}
func (h *CampaignHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrAccountNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrForbidden):
		httputil.Forbidden(w, "forbidden")
	case errors.Is(err, campaign.ErrCampaignRunning):
		httputil.Conflict(w, "campaign is running; stop requested")
	case errors.Is(err, campaign.ErrInvalidState):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
