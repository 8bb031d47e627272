package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/worker"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// buildRouter wires the dashboard API around an initialized environment.
func buildRouter(env *outreachEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard/stats", handleDashboardStats(env))
		r.Get("/leads", handleListLeads(env))
		r.Get("/leads/{id}", handleGetLead(env))
		r.Put("/leads/{id}/reply", handleMarkReply(env))
		r.Put("/leads/{id}/status", handleUpdateStatus(env))
		r.Get("/emails", handleListEmails(env))
		r.Get("/recent-replies", handleRecentReplies(env))
		r.Post("/import", handleImportFile(env))
		r.Post("/import/all", handleImportAll(env))
		r.Post("/email/send", handleSendOne(env))
		r.Post("/email/process-queue", handleProcessQueue(env))
		r.Post("/replies/check", handleCheckReplies(env))
		r.Get("/templates", handleListTemplates(env))
	})

	return r
}

func handleDashboardStats(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		byStatus, err := env.Store.CountLeadsByStatus(ctx)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		total := 0
		for _, n := range byStatus {
			total += n
		}
		inFollowup := byStatus[model.LeadStatusFollowup1] +
			byStatus[model.LeadStatusFollowup2] +
			byStatus[model.LeadStatusFollowup3]

		now := time.Now().UTC()
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		sentToday, err := env.Store.CountEmailsSentSince(ctx, startOfDay)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sentTotal, err := env.Store.CountEmailsSentSince(ctx, time.Time{})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		replied := byStatus[model.LeadStatusReplied] + byStatus[model.LeadStatusEngaged]
		replyRate := 0.0
		if sentTotal > 0 {
			replyRate = float64(replied) / float64(sentTotal)
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"total_leads": total,
			"new":         byStatus[model.LeadStatusNew],
			"contacted":   byStatus[model.LeadStatusContacted],
			"in_followup": inFollowup,
			"replied":     replied,
			"sent_today":  sentToday,
			"sent_total":  sentTotal,
			"reply_rate":  replyRate,
		})
	}
}

func handleListLeads(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.LeadFilter{
			Status: model.LeadStatus(q.Get("status")),
			Search: q.Get("search"),
			Limit:  queryInt(q.Get("limit"), 50),
			Offset: queryInt(q.Get("offset"), 0),
		}
		if v := q.Get("reply_detected"); v != "" {
			b := v == "true"
			filter.ReplyDetected = &b
		}

		leads, err := env.Store.ListLeads(r.Context(), filter)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"leads": leads,
			"count": len(leads),
		})
	}
}

func handleGetLead(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		lead, err := env.Store.GetLead(ctx, id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if lead == nil {
			respondError(w, http.StatusNotFound, "lead not found")
			return
		}

		history, err := env.Store.ListEmailLogs(ctx, store.EmailLogFilter{LeadID: id})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"lead":   lead,
			"emails": history,
		})
	}
}

func handleMarkReply(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := env.Engine.RecordReply(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusNotFound, "lead not found")
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "replied", "lead_id": id})
	}
}

func handleUpdateStatus(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status model.LeadStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !model.ValidLeadStatus(req.Status) {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}

		id := chi.URLParam(r, "id")
		if err := env.Store.UpdateLeadStatus(r.Context(), id, req.Status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusNotFound, "lead not found")
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"lead_id": id, "status": req.Status})
	}
}

func handleListEmails(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		logs, err := env.Store.ListEmailLogs(r.Context(), store.EmailLogFilter{
			Status: model.EmailLogStatus(q.Get("status")),
			Limit:  queryInt(q.Get("limit"), 50),
			Offset: queryInt(q.Get("offset"), 0),
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"emails": logs,
			"count":  len(logs),
		})
	}
}

func handleRecentReplies(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := queryInt(r.URL.Query().Get("days"), 7)
		since := time.Now().UTC().AddDate(0, 0, -days)

		leads, err := env.Store.RecentReplies(r.Context(), since)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"replies": leads,
			"days":    days,
		})
	}
}

func handleImportFile(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Filename string `json:"filename"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
			respondError(w, http.StatusBadRequest, "filename is required")
			return
		}

		// Confined to the drop directory.
		path := filepath.Join(cfg.Import.Dir, filepath.Base(req.Filename))
		stats, err := env.Importer.ImportFile(r.Context(), path, model.LeadSourceApolloCSV)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleImportAll(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := env.Importer.ImportAll(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleSendOne(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Sender == nil {
			respondError(w, http.StatusServiceUnavailable, "no email transport configured")
			return
		}

		var req struct {
			LeadID string `json:"lead_id"`
			Stage  int    `json:"stage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LeadID == "" {
			respondError(w, http.StatusBadRequest, "lead_id is required")
			return
		}

		err := env.Worker.SendLead(r.Context(), req.LeadID, req.Stage)
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, map[string]string{"status": "sent", "lead_id": req.LeadID})
		case errors.Is(err, worker.ErrAlreadyReplied):
			respondError(w, http.StatusBadRequest, "lead already replied")
		case errors.Is(err, worker.ErrStageMismatch):
			respondError(w, http.StatusConflict, "stage does not match lead position")
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "lead not found")
		default:
			zap.L().Error("manual send failed", zap.String("lead_id", req.LeadID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func handleProcessQueue(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Sender == nil {
			respondError(w, http.StatusServiceUnavailable, "no email transport configured")
			return
		}

		stats, err := env.Worker.SendCycle(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleCheckReplies(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Checker == nil {
			respondError(w, http.StatusServiceUnavailable, "reply detection requires gmail access")
			return
		}

		stats, err := env.Checker.Sweep(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleListTemplates(env *outreachEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := env.Store.ListTemplates(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"templates": templates,
			"count":     len(templates),
		})
	}
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
