package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/dispatch"
	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
	"github.com/odvcencio/testfleet/pkg/fileset"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	count, err := s.registry.Count()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"browsers": count,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var info browser.Info
	if status, err := decodeJSONBody(w, r, &info, maxBodyBytesSmall, true); err != nil {
		respondError(w, status, err)
		return
	}
	if strings.TrimSpace(info.UserAgent) == "" {
		info.UserAgent = r.UserAgent()
	}
	b, err := s.registry.Capture(info)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Heartbeat(chi.URLParam(r, "browserID")); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Panic(chi.URLParam(r, "browserID")); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBrowsers(w http.ResponseWriter, r *http.Request) {
	browsers := s.registry.Browsers()
	if browsers == nil {
		browsers = []browser.Browser{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"browsers": browsers,
		"count":    len(browsers),
	})
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "browserID")
	if s.baselines == nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("baselines are not exposed"))
		return
	}
	tc, ok, err := s.baselines.Baseline(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound,
			fleeterrors.New(fleeterrors.ErrCodeUnknownBrowser, "no baseline recorded").WithContext("browser_id", id))
		return
	}
	respondJSON(w, http.StatusOK, tc)
}

// runBody is the POST /runs payload. Timeout is a Go duration string.
type runBody struct {
	TestCase fileset.TestCase `json:"testCase"`
	Filter   []string         `json:"filter,omitempty"`
	Timeout  string           `json:"timeout,omitempty"`
	DryRun   bool             `json:"dryRun,omitempty"`
}

func (b runBody) request() (dispatch.RunRequest, error) {
	req := dispatch.RunRequest{TestCase: b.TestCase, Filter: b.Filter, DryRun: b.DryRun}
	if b.Timeout != "" {
		d, err := time.ParseDuration(b.Timeout)
		if err != nil || d < 0 {
			return req, fleeterrors.New(fleeterrors.ErrCodeInvalidInput, "timeout must be a positive duration").
				WithContext("timeout", b.Timeout)
		}
		req.Timeout = d
	}
	return req, nil
}

// handleRun blocks until the run finishes. The response body is always the
// run report; refusals are reported with 503.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("dispatch is not configured"))
		return
	}
	var body runBody
	if status, err := decodeJSONBody(w, r, &body, maxBodyBytesRun, false); err != nil {
		respondError(w, status, err)
		return
	}
	req, err := body.request()
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.runner.Dispatch(r.Context(), req)
	if err != nil {
		if report == nil {
			respondError(w, statusFor(err), err)
			return
		}
		w.Header().Set("X-Testfleet-Error-Code", string(fleeterrors.GetCode(err)))
		respondJSON(w, statusFor(err), report)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func statusFor(err error) int {
	return fleeterrors.HTTPStatus(err)
}
