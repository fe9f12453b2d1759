package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/usecase"
)

// QueryError reports invalid query parameters by name.
type QueryError struct {
	Fields map[string]string
}

func (e *QueryError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for name, msg := range e.Fields {
		parts = append(parts, name+": "+msg)
	}
	return "invalid query: " + strings.Join(parts, "; ")
}

type auditLogQuery struct {
	ActorType  string `query:"actorType" validate:"required,oneof=USER CLIENT"`
	ActorID    string `query:"actorId" validate:"omitempty,max=200"`
	ActorEmail string `query:"actorEmail" validate:"omitempty,email"`
	Entity     string `query:"entity" validate:"omitempty,max=100"`
	Action     string `query:"action" validate:"omitempty,max=100"`
	EntityID   string `query:"entityId" validate:"omitempty,max=200"`
	StartDate  string `query:"startDate" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndDate    string `query:"endDate" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Cursor     string `query:"cursor" validate:"omitempty,max=200"`
	Limit      string `query:"limit" validate:"omitempty,number"`
}

var queryValidator = newQueryValidator()

func newQueryValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("query")
	})
	return v
}

func (q auditLogQuery) validate() error {
	err := queryValidator.Struct(q)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "is required"
		case "oneof":
			fields[fe.Field()] = "must be one of: " + fe.Param()
		case "email":
			fields[fe.Field()] = "must be a valid email"
		case "datetime":
			fields[fe.Field()] = "must be an RFC3339 timestamp"
		case "number":
			fields[fe.Field()] = "must be a non-negative integer"
		default:
			fields[fe.Field()] = fmt.Sprintf("failed on %q", fe.Tag())
		}
	}
	return &QueryError{Fields: fields}
}

func parseAuditLogQuery(r *http.Request, tenantID string) (usecase.ListAuditLogsQuery, error) {
	v := r.URL.Query()
	q := auditLogQuery{
		ActorType:  v.Get("actorType"),
		ActorID:    v.Get("actorId"),
		ActorEmail: v.Get("actorEmail"),
		Entity:     v.Get("entity"),
		Action:     v.Get("action"),
		EntityID:   v.Get("entityId"),
		StartDate:  v.Get("startDate"),
		EndDate:    v.Get("endDate"),
		Cursor:     v.Get("cursor"),
		Limit:      v.Get("limit"),
	}
	if err := q.validate(); err != nil {
		return usecase.ListAuditLogsQuery{}, err
	}

	filter := domain.AuditLogFilter{
		TenantID:   tenantID,
		ActorType:  domain.ActorType(q.ActorType),
		ActorID:    q.ActorID,
		ActorEmail: q.ActorEmail,
		Entity:     q.Entity,
		Action:     q.Action,
		EntityID:   q.EntityID,
	}
	if q.StartDate != "" {
		t, err := time.Parse(time.RFC3339, q.StartDate)
		if err != nil {
			return usecase.ListAuditLogsQuery{}, &QueryError{Fields: map[string]string{"startDate": "must be an RFC3339 timestamp"}}
		}
		filter.StartDate = &t
	}
	if q.EndDate != "" {
		t, err := time.Parse(time.RFC3339, q.EndDate)
		if err != nil {
			return usecase.ListAuditLogsQuery{}, &QueryError{Fields: map[string]string{"endDate": "must be an RFC3339 timestamp"}}
		}
		filter.EndDate = &t
	}

	page := domain.CursorParams{Cursor: q.Cursor}
	if q.Limit != "" {
		limit, err := strconv.Atoi(q.Limit)
		if err != nil {
			return usecase.ListAuditLogsQuery{}, &QueryError{Fields: map[string]string{"limit": "must be a non-negative integer"}}
		}
		page.Limit = limit
	}
	return usecase.ListAuditLogsQuery{Filter: filter, Page: page}, nil
}

type actorResponse struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type auditLogResponse struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	Changes   domain.Changes `json:"changes,omitempty"`
	CreatedAt string         `json:"createdAt"`
	Actor     actorResponse  `json:"actor"`
}

type listMeta struct {
	Count       int     `json:"count"`
	HasNextPage bool    `json:"hasNextPage"`
	NextCursor  *string `json:"nextCursor"`
}

type auditLogListResponse struct {
	Data []auditLogResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	query, err := parseAuditLogQuery(r, principalFromContext(r.Context()).TenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	list, err := h.audits.List(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := auditLogListResponse{
		Data: make([]auditLogResponse, 0, len(list.Data)),
		Meta: listMeta{Count: list.Count, HasNextPage: list.HasNextPage, NextCursor: list.NextCursor},
	}
	for _, v := range list.Data {
		resp.Data = append(resp.Data, auditLogResponse{
			ID:        v.ID,
			Action:    v.Action,
			Entity:    v.Entity,
			EntityID:  v.EntityID,
			Changes:   v.Changes,
			CreatedAt: v.CreatedAt.UTC().Format(timeFormat),
			Actor: actorResponse{
				ID:    v.Actor.ID,
				Type:  string(v.Actor.Type),
				Name:  v.Actor.Name,
				Email: v.Actor.Email,
			},
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
