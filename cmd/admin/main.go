package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepresearch/orchestrator/config"
	"github.com/deepresearch/orchestrator/internal/store"
)

// admin is the read-only operator surface: liveness and per-job inspection.
// It never mutates a job; submission and control live in cmd/job.
func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.LoadConfig(*cfgPath)

	db, err := sql.Open("postgres", cfg.Storage.Postgres.DSN())
	if err != nil {
		log.Fatalf("admin: open postgres: %v", err)
	}
	defer db.Close()
	st := store.New(db)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[ADMIN] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/jobs/:id", jobStatusHandler(st))

	addr := cfg.Admin.Address
	if addr == "" {
		addr = ":8090"
	}
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("admin: serve: %v", err)
	}
}

type jobStatusResponse struct {
	Job   interface{} `json:"job"`
	Steps interface{} `json:"steps"`
	Notes interface{} `json:"notes,omitempty"`
}

func jobStatusHandler(st *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		job, err := st.GetJob(ctx, id)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		steps, err := st.ListSteps(ctx, id)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		resp := jobStatusResponse{Job: job, Steps: steps}
		if c.QueryParam("notes") == "1" {
			notes, err := st.ListNotes(ctx, id)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			resp.Notes = notes
		}
		return c.JSON(http.StatusOK, resp)
	}
}
