package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/autofix/internal/queue"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := gogithub.ValidatePayload(r, []byte(s.cfg.WebhookSecret))
	if err != nil {
		s.logger.Warn("webhook rejected", "error", err)
		s.errorResponse(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := gogithub.WebHookType(r)
	event, err := gogithub.ParseWebHook(eventType, payload)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "unparseable event")
		return
	}

	var enqueued int
	switch ev := event.(type) {
	case *gogithub.InstallationEvent:
		enqueued, err = s.onInstallation(r.Context(), ev)
	case *gogithub.InstallationRepositoriesEvent:
		enqueued, err = s.onInstallationRepositories(r.Context(), ev)
	default:
		s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ignored", "event": eventType})
		return
	}
	if err != nil {
		s.logger.Error("webhook handling failed", "event", eventType, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "webhook handling failed")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"status": "ok", "event": eventType, "enqueued": enqueued})
}

func (s *Server) onInstallation(ctx context.Context, ev *gogithub.InstallationEvent) (int, error) {
	inst := ev.GetInstallation()
	id := inst.GetID()

	switch ev.GetAction() {
	case "created":
		if err := s.registry.UpsertInstallation(id, inst.GetAccount().GetLogin()); err != nil {
			return 0, err
		}
		return s.register(ctx, id, ev.Repositories)
	case "deleted":
		s.logger.Info("installation removed", "installation", id)
		return 0, s.registry.DeleteInstallation(id)
	}
	return 0, nil
}

func (s *Server) onInstallationRepositories(ctx context.Context, ev *gogithub.InstallationRepositoriesEvent) (int, error) {
	inst := ev.GetInstallation()
	id := inst.GetID()

	switch ev.GetAction() {
	case "added":
		if err := s.registry.UpsertInstallation(id, inst.GetAccount().GetLogin()); err != nil {
			return 0, err
		}
		return s.register(ctx, id, ev.RepositoriesAdded)
	case "removed":
		for _, repo := range ev.RepositoriesRemoved {
			owner, name, ok := splitFullName(repo.GetFullName())
			if !ok {
				continue
			}
			if err := s.registry.RemoveRepository(owner, name); err != nil {
				return 0, err
			}
			s.logger.Info("repository removed", "repo", repo.GetFullName())
		}
	}
	return 0, nil
}

// register records each repository and enqueues its first analysis.
func (s *Server) register(ctx context.Context, installationID int64, repos []*gogithub.Repository) (int, error) {
	n := 0
	for _, repo := range repos {
		owner, name, ok := splitFullName(repo.GetFullName())
		if !ok {
			s.logger.Warn("skipping repository without full name", "name", repo.GetName())
			continue
		}
		if _, err := s.registry.AddRepository(installationID, owner, name); err != nil {
			return n, err
		}
		job := queue.AnalysisJob{RepoOwner: owner, RepoName: name, InstallationID: installationID}
		if err := queue.Push(ctx, s.queue, s.cfg.AnalysisQueue, job); err != nil {
			return n, fmt.Errorf("enqueueing %s: %w", job.Repo(), err)
		}
		s.logger.Info("analysis enqueued", "repo", job.Repo(), "source", "webhook")
		n++
	}
	return n, nil
}

func splitFullName(full string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(full, "/")
	if !ok || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}
