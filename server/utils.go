package server

import (
	"errors"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/profile"
	"github.com/raichat/social/storage"
	"github.com/raichat/social/utils"
)

func sendError(w http.ResponseWriter, errorCode int, message string) {
	log.Info(message)
	w.WriteHeader(errorCode)
	resp := map[string]string{
		"error": message,
	}
	jsonResp := utils.ToJson(resp)
	w.Write(jsonResp)
}

// sendDomainError maps every error kind to its own status and message so
// callers can always tell, e.g., a taken handle from an overlong name.
func sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sendError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, storage.ErrSelfFollow):
		sendError(w, http.StatusBadRequest, "cannot follow own profile")
	case errors.Is(err, storage.ErrAlreadyFollowing):
		sendError(w, http.StatusConflict, "already following")
	case errors.Is(err, storage.ErrNotFollowing):
		sendError(w, http.StatusConflict, "not following")
	case errors.Is(err, storage.ErrWriteConflict):
		sendError(w, http.StatusConflict, "profile was modified concurrently, retry the edit")
	case errors.Is(err, profile.ErrHandleTaken):
		sendError(w, http.StatusConflict, "handle is already in use")
	case errors.Is(err, profile.ErrNameRequired):
		sendError(w, http.StatusBadRequest, "display name is required")
	case errors.Is(err, profile.ErrNameTooLong):
		sendError(w, http.StatusBadRequest, "display name exceeds 30 characters")
	case errors.Is(err, profile.ErrHandleTooLong):
		sendError(w, http.StatusBadRequest, "handle exceeds 12 characters")
	case errors.Is(err, profile.ErrBioTooLong):
		sendError(w, http.StatusBadRequest, "bio exceeds 500 characters")
	default:
		log.Errorf("Unexpected error: %v", err)
		sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func getQueryItem(values url.Values, key string) string {
	value := values[key]
	if len(value) == 1 {
		return value[0]
	}
	return ""
}
