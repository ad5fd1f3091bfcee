package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-gtd/domain"
	"prism-gtd/planner"
)

const idempotencyHeader = "Idempotency-Key"

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, svc TaskService, settings domain.SettingsStore, auth Authenticator, deduper Deduper, logger *log.Logger, defaults domain.Settings) {
	e.JSONSerializer = SonicSerializer{}
	e.Use(Observability(logger))
	e.GET("/healthz", healthz())

	g := e.Group("/api", GzipRequestMiddleware(), RequireOwner(auth))
	g.GET("/tasks", getTasks(svc, settings, defaults))
	g.POST("/tasks", postTask(svc, deduper))
	g.PATCH("/tasks/:id", patchTask(svc))
	g.POST("/tasks/:id/complete", completeTask(svc))
	g.POST("/tasks/:id/reopen", reopenTask(svc))
	g.PUT("/lists/:list/order", putListOrder(svc))
	g.GET("/settings", getSettings(settings, defaults))
	g.PUT("/settings", putSettings(settings, defaults))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(svc TaskService, settings domain.SettingsStore, defaults domain.Settings) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		metrics := metricsFrom(c)
		ownerID := ownerFrom(c)

		selector, err := domain.ParseViewSelector(c.QueryParam("view"), c.QueryParam("id"))
		if err != nil {
			return respondError(c, "invalid_view", err)
		}
		status, err := domain.ParseStatusFilter(c.QueryParam("status"))
		if err != nil {
			return respondError(c, "invalid_status", err)
		}
		filters := domain.Filters{Status: status}
		if raw := strings.TrimSpace(c.QueryParam("archived")); raw != "" {
			archived, perr := strconv.ParseBool(raw)
			if perr != nil {
				return respondError(c, "invalid_archived", badRequest("invalid archived flag"))
			}
			filters.Archived = archived
		}
		offset, err := decodePageToken(c.QueryParam("pageToken"))
		if err != nil {
			return respondError(c, "invalid_page_token", err)
		}

		storeStart := time.Now()
		st, err := settings.GetSettings(ctx, ownerID)
		metrics.ObserveStore(time.Since(storeStart))
		if err != nil {
			return respondError(c, "settings", err)
		}
		st = st.WithDefaults(defaults)

		pageSize := st.PageSize
		if raw := strings.TrimSpace(c.QueryParam("pageSize")); raw != "" {
			n, perr := strconv.Atoi(raw)
			if perr != nil || n <= 0 {
				return respondError(c, "invalid_page_size", badRequest("invalid page size"))
			}
			pageSize = n
		}

		storeStart = time.Now()
		res, err := svc.ListTasks(ctx, ownerID, planner.ListRequest{
			Selector:    selector,
			Filters:     filters,
			Page:        domain.Page{Offset: offset, Limit: pageSize},
			HorizonDays: st.UpcomingHorizonDays,
		})
		metrics.ObserveStore(time.Since(storeStart))
		if err != nil {
			return respondError(c, "storage", err)
		}

		resp := tasksResponse{Tasks: res.Tasks, TotalCount: res.TotalCount, NextPageToken: encodePageToken(res.NextOffset)}
		if resp.Tasks == nil {
			resp.Tasks = []domain.TaskView{}
		}
		metrics.SetTasksReturned(len(resp.Tasks))
		metrics.SetHasNextPage(resp.NextPageToken != "")
		return c.JSON(http.StatusOK, resp)
	}
}

type createTaskRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Priority    int        `json:"priority"`
	List        string     `json:"list"`
	ProjectID   string     `json:"projectId"`
	LabelIDs    []string   `json:"labelIds"`
}

func postTask(svc TaskService, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ownerID := ownerFrom(c)

		var body createTaskRequest
		if err := decodeBody(c, &body); err != nil {
			return respondError(c, "decode", err)
		}
		fields := domain.NewTaskFields{
			Name:        body.Name,
			Description: body.Description,
			DueDate:     body.DueDate,
			Priority:    domain.Priority(body.Priority),
			ProjectID:   body.ProjectID,
			LabelIDs:    body.LabelIDs,
		}
		if body.List != "" {
			l, err := domain.ParseSystemList(body.List)
			if err != nil {
				return respondError(c, "validate", err)
			}
			fields.List = l
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, ownerID, key)
			if err != nil {
				return respondError(c, "dedupe", err)
			}
			if !added {
				return respondError(c, "dedupe", errDuplicateRequest)
			}
		}

		storeStart := time.Now()
		view, err := svc.CreateTask(ctx, ownerID, fields)
		metricsFrom(c).ObserveStore(time.Since(storeStart))
		if err != nil {
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, ownerID, key); rerr != nil {
					c.Logger().Warnf("release idempotency key: %v", rerr)
				}
			}
			return respondError(c, "storage", err)
		}
		return c.JSON(http.StatusCreated, view)
	}
}

type patchTaskRequest struct {
	Name         *string    `json:"name"`
	Description  *string    `json:"description"`
	DueDate      *time.Time `json:"dueDate"`
	ClearDueDate bool       `json:"clearDueDate"`
	Priority     *int       `json:"priority"`
	List         *string    `json:"list"`
	ProjectID    *string    `json:"projectId"`
	LabelIDs     *[]string  `json:"labelIds"`
}

func (r patchTaskRequest) patch() (planner.TaskPatch, error) {
	p := planner.TaskPatch{
		Name:         r.Name,
		Description:  r.Description,
		DueDate:      r.DueDate,
		ClearDueDate: r.ClearDueDate,
		ProjectID:    r.ProjectID,
	}
	if r.Priority != nil {
		prio := domain.Priority(*r.Priority)
		p.Priority = &prio
	}
	if r.List != nil {
		l, err := domain.ParseSystemList(*r.List)
		if err != nil {
			return planner.TaskPatch{}, err
		}
		p.List = &l
	}
	if r.LabelIDs != nil {
		p.LabelIDs = *r.LabelIDs
		p.SetLabels = true
	}
	return p, nil
}

func patchTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body patchTaskRequest
		if err := decodeBody(c, &body); err != nil {
			return respondError(c, "decode", err)
		}
		p, err := body.patch()
		if err != nil {
			return respondError(c, "validate", err)
		}
		storeStart := time.Now()
		view, err := svc.UpdateTask(c.Request().Context(), ownerFrom(c), c.Param("id"), p)
		metricsFrom(c).ObserveStore(time.Since(storeStart))
		if err != nil {
			return respondError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, view)
	}
}

type transitionFunc func(ctx context.Context, ownerID, taskID string) (domain.TaskView, error)

func completeTask(svc TaskService) echo.HandlerFunc {
	return transition(svc.CompleteTask)
}

func reopenTask(svc TaskService) echo.HandlerFunc {
	return transition(svc.ReopenTask)
}

func transition(apply transitionFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		storeStart := time.Now()
		view, err := apply(c.Request().Context(), ownerFrom(c), c.Param("id"))
		metricsFrom(c).ObserveStore(time.Since(storeStart))
		if err != nil {
			return respondError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, view)
	}
}

type reorderRequest struct {
	TaskIDs []string `json:"taskIds"`
}

func putListOrder(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := domain.ParseSystemList(c.Param("list"))
		if err != nil {
			return respondError(c, "validate", err)
		}
		var body reorderRequest
		if err := decodeBody(c, &body); err != nil {
			return respondError(c, "decode", err)
		}
		storeStart := time.Now()
		err = svc.ReorderTasks(c.Request().Context(), ownerFrom(c), list, body.TaskIDs)
		metricsFrom(c).ObserveStore(time.Since(storeStart))
		if err != nil {
			return respondError(c, "storage", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getSettings(settings domain.SettingsStore, defaults domain.Settings) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := settings.GetSettings(c.Request().Context(), ownerFrom(c))
		if err != nil {
			return respondError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, st.WithDefaults(defaults))
	}
}

func putSettings(settings domain.SettingsStore, defaults domain.Settings) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body domain.Settings
		if err := decodeBody(c, &body); err != nil {
			return respondError(c, "decode", err)
		}
		if err := body.Validate(); err != nil {
			return respondError(c, "validate", err)
		}
		if err := settings.SaveSettings(c.Request().Context(), ownerFrom(c), body); err != nil {
			return respondError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, body.WithDefaults(defaults))
	}
}
