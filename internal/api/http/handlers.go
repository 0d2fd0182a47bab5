package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/notefold/notefold/internal/engine"
	"github.com/notefold/notefold/internal/projection/taskview"
	"github.com/notefold/notefold/internal/projection/treeview"
	"github.com/notefold/notefold/internal/query"
)

type nodeResponse struct {
	ID          string `json:"id"`
	ParentID    string `json:"parentId,omitempty"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	DisplayPath string `json:"displayPath"`
}

type taskResponse struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	CategoryID       string    `json:"categoryId,omitempty"`
	SourceDocumentID string    `json:"sourceDocumentId,omitempty"`
	SourceLine       int       `json:"sourceLine"`
	ContentHash      string    `json:"contentHash"`
	Completed        bool      `json:"completed"`
	Orphaned         bool      `json:"orphaned"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type tagsResponse struct {
	EntityID string   `json:"entityId"`
	Direct   []string `json:"direct"`
	Resolved []string `json:"resolved"`
}

type reconcileResponse struct {
	DocumentID string `json:"documentId"`
	Created    int    `json:"created"`
	Observed   int    `json:"observed"`
	Orphaned   int    `json:"orphaned"`
}

type projectionStatus struct {
	Name    string `json:"name"`
	LastSeq uint64 `json:"lastSeq"`
	Halted  bool   `json:"halted"`
	Error   string `json:"error,omitempty"`
}

func toNodeResponse(node treeview.Node) nodeResponse {
	return nodeResponse{
		ID:          node.ID,
		ParentID:    node.ParentID,
		Name:        node.Name,
		Kind:        node.Kind,
		DisplayPath: node.DisplayPath,
	}
}

func toTaskResponse(row taskview.Row) taskResponse {
	return taskResponse{
		ID:               row.ID,
		Text:             row.Text,
		CategoryID:       row.CategoryID,
		SourceDocumentID: row.SourceDocumentID,
		SourceLine:       row.SourceLine,
		ContentHash:      row.ContentHash,
		Completed:        row.Completed,
		Orphaned:         row.Orphaned,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getNode(tree query.Tree) echo.HandlerFunc {
	return func(c echo.Context) error {
		node, err := tree.Node(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		return c.JSON(http.StatusOK, toNodeResponse(node))
	}
}

func getAncestors(tree query.Tree) echo.HandlerFunc {
	return func(c echo.Context) error {
		chain, err := tree.Ancestors(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		resp := make([]nodeResponse, 0, len(chain))
		for _, node := range chain {
			resp = append(resp, toNodeResponse(node))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getChildren(tree query.Tree) echo.HandlerFunc {
	return func(c echo.Context) error {
		children, err := tree.Children(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		resp := make([]nodeResponse, 0, len(children))
		for _, node := range children {
			resp = append(resp, toNodeResponse(node))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func lookupPath(tree query.Tree) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.QueryParam("path")
		if strings.TrimSpace(path) == "" {
			return c.String(http.StatusBadRequest, "path query parameter is required")
		}
		nodeID, err := tree.IDByPath(c.Request().Context(), path)
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		return c.JSON(http.StatusOK, map[string]string{"id": nodeID})
	}
}

func getTags(tags query.Tags) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		entityID := c.Param("id")
		direct, err := tags.Direct(ctx, entityID)
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		resolved, err := tags.Resolved(ctx, entityID)
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		return c.JSON(http.StatusOK, tagsResponse{
			EntityID: entityID,
			Direct:   direct,
			Resolved: resolved,
		})
	}
}

func getTasks(tasks query.Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		filter, err := parseTaskFilter(c)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		rows, err := tasks.List(c.Request().Context(), filter)
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		resp := make([]taskResponse, 0, len(rows))
		for _, row := range rows {
			resp = append(resp, toTaskResponse(row))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// parseTaskFilter reads the listing filters. "category" may be the empty
// string to select uncategorized tasks, so presence and value are distinct.
func parseTaskFilter(c echo.Context) (taskview.Filter, error) {
	var filter taskview.Filter
	if values, ok := c.QueryParams()["category"]; ok && len(values) > 0 {
		categoryID := values[0]
		filter.CategoryID = &categoryID
	}
	filter.SourceDocumentID = c.QueryParam("document")

	if raw := strings.TrimSpace(c.QueryParam("completed")); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			return taskview.Filter{}, fmt.Errorf("invalid completed filter %q", raw)
		}
		filter.Completed = &completed
	}
	if raw := strings.TrimSpace(c.QueryParam("orphaned")); raw != "" {
		orphaned, err := strconv.ParseBool(raw)
		if err != nil {
			return taskview.Filter{}, fmt.Errorf("invalid orphaned filter %q", raw)
		}
		filter.Orphaned = &orphaned
	}
	return filter, nil
}

func getProjections(eng *engine.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		statuses, err := eng.ProjectionStatuses(c.Request().Context())
		if err != nil {
			return c.String(statusFor(err), err.Error())
		}
		resp := make([]projectionStatus, 0, len(statuses))
		for _, status := range statuses {
			entry := projectionStatus{
				Name:    status.Name,
				LastSeq: status.LastSeq,
				Halted:  status.Halted,
			}
			entry.Error = status.LastError
			resp = append(resp, entry)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func postDocumentSaved(eng *engine.Engine, log *logrus.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		documentID := c.Param("id")
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "read body: "+err.Error())
		}
		result, err := eng.DocumentSaved(c.Request().Context(), documentID, string(body))
		if err != nil {
			log.WithError(err).WithField("document_id", documentID).Error("reconciliation failed")
			return c.String(statusFor(err), err.Error())
		}
		return c.JSON(http.StatusOK, reconcileResponse{
			DocumentID: documentID,
			Created:    result.Created,
			Observed:   result.Observed,
			Orphaned:   result.Orphaned,
		})
	}
}
