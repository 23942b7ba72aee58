package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/apiclient"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/internal/session"
	"github.com/damio-kids/admin-console/pkg/apperrors"
)

var errNoController = errors.New("handlers: no session controller on request")

func controller(c *fiber.Ctx) (*session.Controller, error) {
	ctrl, ok := guard.ControllerFrom(c)
	if !ok {
		return nil, apperrors.NewInternalError(errNoController)
	}
	return ctrl, nil
}

// mapSessionError turns controller and backend failures into console errors.
// Backend payloads are never interpreted for authentication here; the
// controller already did that.
func mapSessionError(cfg guard.Config, err error) error {
	var loginErr *session.LoginError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &loginErr):
		return apperrors.NewLoginFailed(loginErr.Message)
	case errors.Is(err, session.ErrNotAuthenticated), apiclient.IsCredentialInvalid(err):
		return apperrors.NewUnauthenticated("your session has ended, sign in again", cfg.LoginPath)
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		return apperrors.NewConflict("already signed in", map[string]any{"redirect": cfg.LandingPath})
	case errors.Is(err, session.ErrBusy):
		return apperrors.NewConflict("a sign-in or sign-out is already in progress", nil)
	case errors.Is(err, session.ErrInitializing):
		return apperrors.NewConflict("session is still being verified, retry shortly", nil)
	case errors.Is(err, session.ErrStale):
		return apperrors.NewConflict("session changed while the request was in flight", nil)
	}

	if apiErr, ok := apiclient.AsError(err); ok {
		switch {
		case apiErr.StatusCode >= 500:
			return apperrors.NewUpstreamUnavailable(apiErr)
		case apiErr.StatusCode == http.StatusForbidden:
			return apperrors.NewForbidden(messageOr(apiErr.Message, "the backend denied this action"))
		case apiErr.StatusCode >= 400:
			return apperrors.NewBackendRejected(apiErr.StatusCode, messageOr(apiErr.Message, "the backend rejected the request"))
		default:
			return apperrors.NewBackendRejected(apiErr.StatusCode, messageOr(apiErr.Message, "the backend reported a failure"))
		}
	}
	if apiclient.IsTimeout(err) {
		return apperrors.NewUpstreamUnavailable(err)
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return apperrors.NewUpstreamUnavailable(err)
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
