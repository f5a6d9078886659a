package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-erp/meridian-erp/internal/catalog/variants"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/branches"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/companies"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/locations"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/units"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Metrics          *observability.Metrics
	ValuationHandler *valuation.Handler
	CompaniesHandler *companies.Handler
	BranchesHandler  *branches.Handler
	LocationsHandler *locations.Handler
	UnitsHandler     *units.Handler
	VariantsHandler  *variants.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/valuation", params.ValuationHandler.MountRoutes)
	if params.CompaniesHandler != nil {
		r.Route("/masterdata/companies", params.CompaniesHandler.MountRoutes)
	}
	if params.BranchesHandler != nil {
		r.Route("/masterdata/branches", params.BranchesHandler.MountRoutes)
	}
	if params.LocationsHandler != nil {
		r.Route("/masterdata/locations", params.LocationsHandler.MountRoutes)
	}
	if params.UnitsHandler != nil {
		r.Route("/masterdata/units", params.UnitsHandler.MountRoutes)
	}
	if params.VariantsHandler != nil {
		r.Route("/catalog/variants", params.VariantsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
