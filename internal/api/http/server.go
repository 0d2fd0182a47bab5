// Package http exposes the engine over a small HTTP surface: read-only
// projection queries plus the document-saved notification that drives
// reconciliation.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/notefold/notefold/internal/engine"
	"github.com/notefold/notefold/internal/eventstore"
	apperrors "github.com/notefold/notefold/internal/platform/errors"
	"github.com/notefold/notefold/internal/query"
)

const shutdownTimeout = 10 * time.Second

// Run serves the API until ctx is cancelled, then drains in-flight
// requests.
func Run(ctx context.Context, port int, eng *engine.Engine, log *logrus.Logger) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	Register(e, eng, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(fmt.Sprintf(":%d", port))
	}()
	log.WithField("port", port).Info("http api listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

// Register wires all routes on the provided Echo instance.
func Register(e *echo.Echo, eng *engine.Engine, log *logrus.Logger) {
	tree := query.NewTree(eng.Tree())
	tags := query.NewTags(eng.Tags())
	tasks := query.NewTasks(eng.Tasks())

	e.GET("/healthz", healthz())
	e.GET("/tree/:id", getNode(tree))
	e.GET("/tree/ancestors/:id", getAncestors(tree))
	e.GET("/tree/children/:id", getChildren(tree))
	e.GET("/tree/lookup", lookupPath(tree))
	e.GET("/tags/:id", getTags(tags))
	e.GET("/tasks", getTasks(tasks))
	e.GET("/projections", getProjections(eng))
	e.POST("/documents/:id/saved", postDocumentSaved(eng, log))
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, eventstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return http.StatusConflict
	}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case apperrors.CodeCategoryNotFound, apperrors.CodeDocumentNotFound,
			apperrors.CodeTaskNotFound, apperrors.CodeNotFound:
			return http.StatusNotFound
		case apperrors.CodeConcurrencyConflict:
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
