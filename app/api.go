package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, metrics *prometheus.Registry) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, metrics)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("HTTP server listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, metrics *prometheus.Registry) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("listingwatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/users", func(r chi.Router) {
			r.Post("/register", ctrl.register)
			r.Get("/{user_id}/status", ctrl.userStatus)
		})
		r.Post("/watches/{watch_id}/deactivate", ctrl.deactivateWatch)
	})
	r.Get("/link/{token}", ctrl.linkChannel)

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

// fail maps service errors onto HTTP statuses.
func (ctrl *controller) fail(w http.ResponseWriter, err error) {
	var cfgErr *lib.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		ctrl.reject(w, http.StatusBadRequest, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	default:
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

type registerRequest struct {
	Username             string            `json:"username"`
	Label                string            `json:"label"`
	SearchURL            string            `json:"search_url"`
	QueryParams          map[string]string `json:"query_params"`
	Platform             string            `json:"platform"`
	Email                string            `json:"email"`
	CheckIntervalMinutes int               `json:"check_interval_minutes"`
}

func (ctrl *controller) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body registerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
		return
	}

	reg, err := ctrl.svc.RegisterWatch(ctx, lib.RegisterWatchRequest{
		Username:             body.Username,
		Label:                body.Label,
		SearchURL:            body.SearchURL,
		QueryParams:          body.QueryParams,
		Platform:             body.Platform,
		Email:                body.Email,
		CheckIntervalMinutes: body.CheckIntervalMinutes,
	})
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, RegistrationView{}.From(reg))
}

func (ctrl *controller) userStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := parseID(chi.URLParam(r, "user_id"))
	if !ok {
		ctrl.reject(w, http.StatusBadRequest, errors.New("user_id must be a positive integer"))
		return
	}

	status, err := ctrl.svc.UserStatus(ctx, userID)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, UserStatusView{}.From(status))
}

func (ctrl *controller) deactivateWatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	watchID, ok := parseID(chi.URLParam(r, "watch_id"))
	if !ok {
		ctrl.reject(w, http.StatusBadRequest, errors.New("watch_id must be a positive integer"))
		return
	}

	watch, err := ctrl.svc.DeactivateWatch(ctx, watchID)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"watch_id": watch.ID, "active": false})
}

func (ctrl *controller) linkChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")

	notifier, err := ctrl.svc.LinkChannel(ctx, token, "")
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"verified": notifier.Verified})
}

func parseID(s string) (uint, bool) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil || u == 0 {
		return 0, false
	}
	return uint(u), true
}
