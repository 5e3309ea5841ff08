package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"genqueue/internal/deadletter"
	"genqueue/internal/domain"
	"genqueue/pkg/zip"
)

const maxListLimit = 500

type deadLetterItem struct {
	ID        string                 `json:"id"`
	JobID     string                 `json:"job_id"`
	JobType   domain.JobType         `json:"job_type"`
	Handler   string                 `json:"handler"`
	UserID    string                 `json:"user_id,omitempty"`
	Failure   domain.FailureType     `json:"failure"`
	Reason    string                 `json:"reason"`
	Attempts  int                    `json:"attempts"`
	History   []domain.AttemptRecord `json:"history"`
	Payload   json.RawMessage        `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// DeadLetterList serves GET /v1/deadletter.
func (a *App) DeadLetterList(w http.ResponseWriter, r *http.Request) {
	if a.DeadLetters == nil {
		a.error(w, http.StatusNotFound, "not_found", "dead-letter queue disabled")
		return
	}
	filter, limit, err := parseDeadLetterQuery(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	entries, err := a.DeadLetters.List(r.Context(), filter, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: list dead letters")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load dead letters")
		return
	}
	items := make([]deadLetterItem, 0, len(entries))
	for _, e := range entries {
		rec, err := deadletter.ToRecord(e)
		if err != nil {
			a.Logger.Warn().Err(err).Str("id", e.ID).Msg("http: skip undecodable dead letter")
			continue
		}
		items = append(items, deadLetterItem{
			ID:        e.ID,
			JobID:     e.Job.ID,
			JobType:   e.Job.Type,
			Handler:   e.Job.Handler,
			UserID:    e.Job.UserID,
			Failure:   e.Failure,
			Reason:    e.Reason,
			Attempts:  e.Attempts,
			History:   e.History,
			Payload:   rec.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// DeadLetterStats serves GET /v1/deadletter/stats.
func (a *App) DeadLetterStats(w http.ResponseWriter, r *http.Request) {
	if a.DeadLetters == nil {
		a.error(w, http.StatusNotFound, "not_found", "dead-letter queue disabled")
		return
	}
	stats, err := a.DeadLetters.Stats(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: dead letter stats")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	a.json(w, http.StatusOK, stats)
}

func parseDeadLetterQuery(r *http.Request) (domain.DeadLetterFilter, int, error) {
	q := r.URL.Query()
	var f domain.DeadLetterFilter
	if v := q.Get("job_type"); v != "" {
		f.JobType = domain.JobType(v)
	}
	if v := q.Get("failure"); v != "" {
		ft, err := domain.ParseFailureType(v)
		if err != nil {
			return f, 0, err
		}
		f.Failure = ft
	}
	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, 0, errors.New("since must be RFC3339")
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, 0, errors.New("until must be RFC3339")
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, 0, errors.New("limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return f, limit, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// DeadLetterExport serves GET /v1/deadletter/export: the filtered entries as
// a zip of JSON records, one member per entry.
func (a *App) DeadLetterExport(w http.ResponseWriter, r *http.Request) {
	if a.DeadLetters == nil {
		a.error(w, http.StatusNotFound, "not_found", "dead-letter queue disabled")
		return
	}
	filter, limit, err := parseDeadLetterQuery(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	entries, err := a.DeadLetters.List(r.Context(), filter, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: export dead letters")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load dead letters")
		return
	}
	files := make([]zip.File, 0, len(entries))
	for _, e := range entries {
		rec, err := deadletter.ToRecord(e)
		if err != nil {
			a.Logger.Warn().Err(err).Str("id", e.ID).Msg("http: skip undecodable dead letter")
			continue
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			continue
		}
		files = append(files, zip.File{
			Name:     fmt.Sprintf("%s/%s.json", e.Job.Type, e.ID),
			Data:     data,
			Modified: e.CreatedAt,
		})
	}
	archive, err := zip.Archive(files)
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: build dead letter archive")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="deadletters.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
