package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/orgdeploy/pkg/httputil"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
	"github.com/platinummonkey/orgdeploy/pkg/selfreg"
)

// selfRegister handles POST /api/v1/self-registration
func (s *Server) selfRegister(w http.ResponseWriter, r *http.Request) {
	var reg selfreg.Registration
	if !httputil.ParseJSONOrError(w, r, &reg) {
		return
	}

	err := s.monitor.Announce(r.Context(), reg)
	switch {
	case err == nil:
		httputil.WriteAccepted(w, map[string]string{
			"accountId":  reg.AccountID,
			"externalId": reg.ExternalID,
			"status":     "accepted",
		})
	case errors.Is(err, selfreg.ErrNoSession):
		httputil.WriteNotFound(w, err.Error())
	default:
		httputil.WriteBadRequest(w, err.Error())
	}
}

// startWatch handles POST /api/v1/self-registration/watch
func (s *Server) startWatch(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	externalID := req.ExternalID
	if externalID == "" {
		externalID = selfreg.NewExternalID()
	}

	var timeout time.Duration
	if req.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(req.Timeout)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid timeout: "+err.Error())
			return
		}
	}

	watch, err := s.monitor.Watch(r.Context(), externalID, timeout)
	if err != nil {
		if errors.Is(err, selfreg.ErrSessionExists) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.mu.Lock()
	s.watches[externalID] = watch
	s.mu.Unlock()
	go s.retireWatch(watch, externalID)

	httputil.WriteCreated(w, WatchResponse{
		ExternalID: externalID,
		Outcome:    string(watch.Outcome()),
		Accounts:   []orgmodel.RegisteredAccount{},
	})
}

// retireWatch persists each accepted registration into the account catalog
// as it arrives, then evicts the ended watch after the retention window so
// the session map stays bounded.
func (s *Server) retireWatch(watch *selfreg.Watch, externalID string) {
	for acct := range watch.Events() {
		if _, err := s.catalog.Upsert(s.baseCtx, acct); err != nil {
			s.log.WithError(err).WithFields(map[string]interface{}{
				"external_id": externalID,
				"account_id":  acct.AccountID,
			}).Error("failed to persist self-registered account")
		}
	}

	time.AfterFunc(s.watchRetention, func() {
		s.mu.Lock()
		delete(s.watches, externalID)
		s.mu.Unlock()
	})
}

// getWatch handles GET /api/v1/self-registration/watch/{externalID}
func (s *Server) getWatch(w http.ResponseWriter, r *http.Request) {
	externalID, ok := httputil.ParsePathStringOrError(w, r, "externalID")
	if !ok {
		return
	}

	s.mu.Lock()
	watch, found := s.watches[externalID]
	s.mu.Unlock()
	if !found {
		httputil.WriteNotFound(w, "unknown self-registration watch "+externalID)
		return
	}

	accounts := watch.Accepted()
	if accounts == nil {
		accounts = []orgmodel.RegisteredAccount{}
	}
	httputil.WriteSuccess(w, WatchResponse{
		ExternalID: externalID,
		Outcome:    string(watch.Outcome()),
		Accounts:   accounts,
	})
}
