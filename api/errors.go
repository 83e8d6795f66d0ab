package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flexiant/camanager/factory"
	"github.com/flexiant/camanager/ledger"
	"github.com/flexiant/camanager/model"
	"github.com/flexiant/camanager/pki"
	"github.com/flexiant/camanager/registry"
	"github.com/flexiant/camanager/storage"
)

const maxSmallBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs the cause and returns a generic message.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// decodeJSON reads a JSON body of at most limit bytes. On failure it writes
// the error response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return nil, false
	}
	return &v, true
}

func mapError(w http.ResponseWriter, msg string, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, factory.ErrInvalidArgument),
		errors.Is(err, pki.ErrPolicy),
		errors.Is(err, pki.ErrInvalidPEM),
		errors.Is(err, pki.ErrInvalidValidity),
		errors.Is(err, pki.ErrInvalidConfig),
		errors.Is(err, ledger.ErrInvalidSerial),
		errors.Is(err, ledger.ErrCANameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pki.ErrInvalidPassword):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, ledger.ErrNoCRL):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrNoCertificate),
		errors.Is(err, pki.ErrNoPrivateKey):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeInternalError(w, msg, err)
	}
}
