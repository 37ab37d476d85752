package ledgerd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"aqualedger/gateway/middleware"
)

const maxBodyBytes = 64 << 10

type eventCompletionRequest struct {
	Participant     string `json:"participant"`
	ActivityMinutes uint64 `json:"activityMinutes"`
	WasteUnits      uint64 `json:"wasteUnits"`
}

type imageUploadRequest struct {
	Participant string `json:"participant"`
}

type spendRequest struct {
	Amount      uint64 `json:"amount"`
	ItemID      string `json:"itemId"`
	Description string `json:"description"`
}

type issuerRequest struct {
	Principal string `json:"principal"`
}

type statusResponse struct {
	Halted  bool     `json:"halted"`
	Issuers []string `json:"issuers"`
}

func caller(r *http.Request) (string, error) {
	id, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return "", errMissingCaller
	}
	return id, nil
}

// decode reads a single JSON object and rejects unknown fields.
func decode(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// pathParam returns the unescaped chi URL parameter.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "halted": s.ledger.Halted()})
}

func (s *Server) handleEventCompletion(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req eventCompletionRequest
	if err := decode(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	receipt, err := s.ledger.CreditEventCompletion(r.Context(), who, req.Participant, pathParam(r, "eventID"), req.ActivityMinutes, req.WasteUnits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req imageUploadRequest
	if err := decode(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	receipt, err := s.ledger.CreditImageUpload(r.Context(), who, req.Participant, pathParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req spendRequest
	if err := decode(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	receipt, err := s.ledger.Spend(r.Context(), who, pathParam(r, "participant"), req.Amount, req.ItemID, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListSpends(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.Spends(r.Context(), pathParam(r, "participant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"spends": records})
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	impact, err := s.ledger.QueryImpact(r.Context(), pathParam(r, "participant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, impact)
}

func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	unlocks, err := s.ledger.Achievements(r.Context(), pathParam(r, "participant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"achievements": unlocks})
}

func (s *Server) handleGrantAchievement(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.ledger.GrantAchievement(r.Context(), who, pathParam(r, "participant"), pathParam(r, "achievementID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"achievements": s.ledger.Catalog().Definitions()})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := s.ledger.Supply(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supply)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.ledger.Status()
	issuers := snapshot.Issuers
	if issuers == nil {
		issuers = []string{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Halted:  snapshot.Halted,
		Issuers: issuers,
	})
}

func (s *Server) handleAddIssuer(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req issuerRequest
	if err := decode(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.ledger.AddAuthorizedIssuer(r.Context(), who, req.Principal); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveIssuer(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ledger.RemoveAuthorizedIssuer(r.Context(), who, pathParam(r, "principal")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHalt(halted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, err := caller(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.ledger.SetHalted(r.Context(), who, halted); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
