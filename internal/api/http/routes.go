package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/generation-mix/internal/generation"
	"github.com/i474232898/generation-mix/internal/store"
)

var validate = validator.New()

const dateLayout = "2006-01-02"

// Service is the read and trigger surface the API needs from the pipeline.
type Service interface {
	Range(ctx context.Context, from, to *time.Time, iv generation.Interval) ([]generation.Generation, int64, error)
	Version(ctx context.Context) (int64, error)
	Runs(ctx context.Context, limit int) ([]generation.RunHistory, error)
	LastRefresh(ctx context.Context) (time.Time, error)
	Trigger(ctx context.Context) error
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/generation", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		iv, err := generation.ParseInterval(req.Interval)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rows, version, err := service.Range(c.UserContext(), req.From, req.To, iv)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load generation data")
		}
		if rows == nil {
			rows = []generation.Generation{}
		}

		return c.JSON(fiber.Map{
			"version":  version,
			"interval": iv,
			"from":     req.From,
			"to":       req.To,
			"count":    len(rows),
			"rows":     rows,
		})
	})

	v1.Get("/generation/version", func(c *fiber.Ctx) error {
		version, err := service.Version(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read data version")
		}
		return c.JSON(fiber.Map{"version": version})
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req runsQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		runs, err := service.Runs(c.UserContext(), req.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load run history")
		}
		return c.JSON(fiber.Map{"runs": runs})
	})

	v1.Get("/runs/last-refresh", func(c *fiber.Ctx) error {
		ts, err := service.LastRefresh(c.UserContext())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no successful pipeline run yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load last refresh")
		}
		return c.JSON(fiber.Map{"last_refresh": ts})
	})

	v1.Post("/pipeline/run", func(c *fiber.Ctx) error {
		if err := service.Trigger(c.UserContext()); err != nil {
			if errors.Is(err, generation.ErrRunInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to start pipeline run")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
	})
}

// rangeQuery holds query parameters for the generation endpoint.
type rangeQuery struct {
	From     *time.Time
	To       *time.Time
	Interval string `validate:"omitempty,oneof=30m 1h 1d 1mo 1y"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	r.Interval = c.Query("interval")

	if s := c.Query("from"); s != "" {
		from, err := parseTime(s, false)
		if err != nil {
			return err
		}
		r.From = &from
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s, true)
		if err != nil {
			return err
		}
		r.To = &to
	}

	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return errors.New("to must not be before from")
	}
	return nil
}

// runsQuery holds query parameters for the run history endpoint.
type runsQuery struct {
	Limit int `validate:"min=1,max=500"`
}

func (r *runsQuery) bind(c *fiber.Ctx) error {
	r.Limit = 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		r.Limit = n
	}
	return nil
}

// parseTime accepts RFC3339, Unix seconds or a plain date. A plain date used
// as an upper bound covers the whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		if endOfDay {
			return ts.Add(24*time.Hour - time.Nanosecond), nil
		}
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}
