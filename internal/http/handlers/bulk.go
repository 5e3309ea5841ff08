package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"genqueue/internal/domain"
	"genqueue/internal/pipeline"
)

const maxBulkRows = 1000

type BulkSource interface {
	CreateBulkJob(sheetID, userID string) (pipeline.BulkJob, error)
	Get(id string) (pipeline.BulkJob, error)
	List() []pipeline.BulkJob
	AddRows(ctx context.Context, bulkID string, rows []domain.ContentRequest) ([]pipeline.Submission, []error)
}

type createBulkRequest struct {
	SheetID string `json:"sheet_id"`
	UserID  string `json:"user_id"`
}

type bulkRow struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	Kind          string            `json:"kind"`
	Prompt        string            `json:"prompt"`
	Resolution    string            `json:"resolution"`
	DurationSec   float64           `json:"duration_seconds"`
	Engine        string            `json:"engine"`
	Style         map[string]string `json:"style"`
	Priority      string            `json:"priority"`
	EstimatedCost float64           `json:"estimated_cost"`
	References    []string          `json:"references"`
}

func (row bulkRow) request(now time.Time) (domain.ContentRequest, error) {
	prio := domain.PriorityNormal
	if row.Priority != "" {
		p, err := domain.ParsePriority(row.Priority)
		if err != nil {
			return domain.ContentRequest{}, err
		}
		prio = p
	}
	return domain.ContentRequest{
		ID:            row.ID,
		ProjectID:     row.ProjectID,
		Kind:          domain.ContentKind(row.Kind),
		Prompt:        row.Prompt,
		Resolution:    row.Resolution,
		Duration:      time.Duration(row.DurationSec * float64(time.Second)),
		Engine:        row.Engine,
		Style:         row.Style,
		Priority:      prio,
		EstimatedCost: row.EstimatedCost,
		References:    row.References,
		CreatedAt:     now,
	}, nil
}

// BulkCreate serves POST /v1/bulk. The same sheet and user always map to
// the same job.
func (a *App) BulkCreate(w http.ResponseWriter, r *http.Request) {
	if a.Bulk == nil {
		a.error(w, http.StatusNotFound, "not_found", "bulk intake disabled")
		return
	}
	var body createBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	job, err := a.Bulk.CreateBulkJob(body.SheetID, body.UserID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) BulkList(w http.ResponseWriter, r *http.Request) {
	if a.Bulk == nil {
		a.error(w, http.StatusNotFound, "not_found", "bulk intake disabled")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": a.Bulk.List()})
}

func (a *App) BulkGet(w http.ResponseWriter, r *http.Request) {
	if a.Bulk == nil {
		a.error(w, http.StatusNotFound, "not_found", "bulk intake disabled")
		return
	}
	job, err := a.Bulk.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// BulkAddRows serves POST /v1/bulk/{id}/rows. Rejected rows are reported
// alongside the accepted ones.
func (a *App) BulkAddRows(w http.ResponseWriter, r *http.Request) {
	if a.Bulk == nil {
		a.error(w, http.StatusNotFound, "not_found", "bulk intake disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := a.Bulk.Get(id); err != nil {
		a.domainError(w, err)
		return
	}
	var body struct {
		Rows []bulkRow `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if len(body.Rows) == 0 || len(body.Rows) > maxBulkRows {
		a.error(w, http.StatusBadRequest, "bad_request", "rows must hold between 1 and 1000 entries")
		return
	}

	now := time.Now().UTC()
	rows := make([]domain.ContentRequest, 0, len(body.Rows))
	rejected := make([]string, 0)
	for _, row := range body.Rows {
		req, err := row.request(now)
		if err != nil {
			rejected = append(rejected, "row "+row.ID+": "+err.Error())
			continue
		}
		rows = append(rows, req)
	}
	subs, errs := a.Bulk.AddRows(r.Context(), id, rows)
	for _, err := range errs {
		rejected = append(rejected, err.Error())
	}
	if subs == nil {
		subs = []pipeline.Submission{}
	}
	a.json(w, http.StatusAccepted, map[string]any{"accepted": subs, "rejected": rejected})
}

func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("http: bulk request")
		a.error(w, http.StatusInternalServerError, "internal", "request failed")
	}
}
