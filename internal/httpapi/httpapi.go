package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"kasirinaja/poscore/internal/apperr"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/logger"
	"kasirinaja/poscore/internal/metrics"
	"kasirinaja/poscore/internal/service"
)

type Options struct {
	AllowedOrigin string
	Logger        *logger.Logger
	HTTPMetrics   *metrics.HTTP
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Health is probed by /healthz; nil reports healthy.
	Health func(ctx context.Context) error
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	log          *logger.Logger
	loginLimiter *httprate.RateLimiter
	pinLimiter   *httprate.RateLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if strings.TrimSpace(opts.AllowedOrigin) == "" {
		opts.AllowedOrigin = "http://127.0.0.1:3000"
	}
	return &API{
		service:      svc,
		auth:         auth,
		opts:         opts,
		log:          opts.Logger,
		loginLimiter: newClientLimiter(opts.Logger, 5, time.Minute, "too many login attempts"),
		pinLimiter:   newClientLimiter(opts.Logger, 8, time.Minute, "too many manager pin attempts"),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		requestID(a.log),
		requestLogging(a.log, a.opts.HTTPMetrics),
		recoverer(a.log),
		securityHeaders,
		corsPolicy(a.opts.AllowedOrigin),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), nil, w, apperr.New(apperr.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"}})
	})

	r.Get("/healthz", a.handleHealth)
	if a.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.opts.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.loginLimiter.Handler).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Post("/shifts", a.handleShiftOpen)
			r.Post("/shifts/{sessionID}/close", a.handleShiftClose)
			r.Get("/outlets/{outletID}/shift", a.handleShiftActive)

			r.Post("/sales", a.handleRecordSale)
			r.Get("/sales/{saleID}", a.handleGetSale)
			r.Post("/sales/{saleID}/void", a.handleVoidSale)
			r.Post("/sales/{saleID}/refund", a.handleRefundSale)

			r.Get("/outlets/{outletID}/stock", a.handleOutletStock)
			r.Get("/outlets/{outletID}/stock/{productID}/movements", a.handleMovements)
			r.Get("/outlets/{outletID}/stock/{productID}/verify", a.handleVerifyLedger)
			r.Get("/outlets/{outletID}/alerts", a.handleOpenAlerts)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Post("/stock/adjust", a.handleStockAdjust)
			r.Post("/stock/transfer", a.handleStockTransfer)
			r.Post("/outlets/{outletID}/opname", a.handleOpname)
			r.Get("/outlets/{outletID}/audit-logs", a.handleAuditLogs)
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(r.Context(), nil, w, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				writeError(r.Context(), nil, w, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(r.Context(), nil, w, apperr.New(apperr.CodeForbidden, "forbidden role"))
				return
			}

			ctx := a.log.WithUserID(r.Context(), actor.UserID)
			next.ServeHTTP(w, r.WithContext(service.WithActor(ctx, actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), a.log, w, err)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.opts.Health(ctx); err != nil {
			a.fail(w, r, apperr.Wrap(apperr.CodeDependency, err, "store unavailable"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenShiftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	session, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseShiftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	summary, err := a.service.CloseShift(r.Context(), chi.URLParam(r, "sessionID"), req.ClosingCashCents)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.ActiveShift(r.Context(), chi.URLParam(r, "outletID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.service.RecordSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: sale})
}

// authorizeReversal gates void and refund: the actor must hold the open shift
// at the sale's outlet, and cashiers also need the manager PIN.
func (a *API) authorizeReversal(w http.ResponseWriter, r *http.Request, saleID, action, pin string) error {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		return apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	sale, err := a.service.GetSale(r.Context(), saleID)
	if err != nil {
		return err
	}
	open, err := a.service.HasOpenShift(r.Context(), sale.OutletID, actor.UserID)
	if err != nil {
		return err
	}
	if !open {
		return apperr.New(apperr.CodeForbidden, "an open shift at the sale's outlet is required").
			WithDetails(map[string]any{"outlet_id": sale.OutletID})
	}

	if actor.Role == domain.RoleAdmin {
		return nil
	}
	if a.pinLimiter.OnLimit(w, r, "pin:"+action+":"+clientKey(r)) {
		return apperr.New(apperr.CodeRateLimit, "too many manager pin attempts")
	}
	if !a.auth.ValidateManagerPIN(pin) {
		return apperr.New(apperr.CodeForbidden, "invalid manager pin")
	}
	return nil
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	saleID := chi.URLParam(r, "saleID")
	if err := a.authorizeReversal(w, r, saleID, "void", req.ManagerPIN); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.service.VoidSale(r.Context(), saleID, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRefundSale(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	saleID := chi.URLParam(r, "saleID")
	if err := a.authorizeReversal(w, r, saleID, "refund", req.ManagerPIN); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.service.RefundSale(r.Context(), saleID, req.Reason, req.AmountCents)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOutletStock(w http.ResponseWriter, r *http.Request) {
	outletID := chi.URLParam(r, "outletID")
	entries, err := a.service.ListOutletStock(r.Context(), outletID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outlet_id": outletID, "stock": entries})
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := a.service.ListMovements(r.Context(), chi.URLParam(r, "productID"), chi.URLParam(r, "outletID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.VerifyLedger(r.Context(), chi.URLParam(r, "productID"), chi.URLParam(r, "outletID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleOpenAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.service.ListOpenAlerts(r.Context(), chi.URLParam(r, "outletID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleStockAdjust(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStockTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.service.Transfer(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOpname(w http.ResponseWriter, r *http.Request) {
	var req domain.OpnameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	req.OutletID = chi.URLParam(r, "outletID")

	resp, err := a.service.Reconcile(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), chi.URLParam(r, "outletID"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
