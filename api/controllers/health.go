package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/workshop-backend/api/responses"
	"github.com/angelmondragon/workshop-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/workshop-backend/pkg/errors"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
)

const (
	envHeader          = "X-Workshop-Env"
	readyCheckTimeout  = 2 * time.Second
	readyStatusOK      = "ok"
	readyStatusFailing = "failing"
)

// Pinger is a dependency probed by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency concurrently and fails with 503 when any
// of them is down.
func HealthReady(cfg *config.Config, checks map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		errs := make([]error, len(names))
		var group errgroup.Group
		for i, name := range names {
			group.Go(func() error {
				ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
				defer cancel()
				errs[i] = checks[name].Ping(ctx)
				return nil
			})
		}
		_ = group.Wait()

		status := make(map[string]string, len(names))
		var failed *pkgerrors.Error
		for i, name := range names {
			if errs[i] == nil {
				status[name] = readyStatusOK
				continue
			}
			status[name] = readyStatusFailing
			if failed == nil {
				failed = pkgerrors.Wrap(pkgerrors.CodeDependency, errs[i], name+" unavailable")
			}
		}

		if failed != nil {
			responses.WriteError(r.Context(), logg, w, failed.WithDetails(map[string]any{"checks": status}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": status})
	}
}
