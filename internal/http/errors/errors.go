package errors

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jw6ventures/mailvite/internal/itip"
)

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	requestID := middleware.GetReqID(r.Context())

	// Log the actual error with request ID for debugging
	if requestID != "" {
		log.Printf("[ERROR] RequestID=%s: %s: %v", requestID, message, err)
	} else {
		log.Printf("[ERROR] %s: %v", message, err)
	}

	// Return generic error to client
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	requestID := middleware.GetReqID(r.Context())

	if requestID != "" {
		log.Printf("[WARN] RequestID=%s: bad request: %v", requestID, err)
	} else {
		log.Printf("[WARN] bad request: %v", err)
	}

	http.Error(w, clientMessage, http.StatusBadRequest)
}

func LogError(r *http.Request, message string, err error) {
	requestID := middleware.GetReqID(r.Context())

	if requestID != "" {
		log.Printf("[ERROR] RequestID=%s: %s: %v", requestID, message, err)
	} else {
		log.Printf("[ERROR] %s: %v", message, err)
	}
}

func LogInfo(r *http.Request, message string) {
	requestID := middleware.GetReqID(r.Context())

	if requestID != "" {
		log.Printf("[INFO] RequestID=%s: %s", requestID, message)
	} else {
		log.Printf("[INFO] %s", message)
	}
}

// InviteError renders an invitation-processing failure as JSON. The status
// code follows the error kind: content problems are the client's fault,
// backend trouble is ours. Only the kind and hash reach the client; the
// wrapped cause stays in the log.
func InviteError(w http.ResponseWriter, r *http.Request, err *itip.Error) {
	LogError(r, "invitation error", err)

	status := http.StatusBadGateway
	switch err.Kind {
	case itip.KindInvalid, itip.KindUnsupported, itip.KindParsing, itip.KindMissingAttendee:
		status = http.StatusUnprocessableEntity
	case itip.KindDecryption:
		status = http.StatusUnprocessableEntity
	case itip.KindExternal:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     err.Kind,
		"retryable": err.Kind.Retryable(),
		"hash":      err.Hash,
	})
}
