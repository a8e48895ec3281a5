package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/howard-nolan/cardforge/internal/card"
	"github.com/howard-nolan/cardforge/internal/provider"
)

// maxBodyBytes caps request bodies. Chat requests with inline images are
// the largest thing clients send.
const maxBodyBytes = 20 << 20

// errorBody is the OpenAI error envelope, so OpenAI SDKs surface gateway
// errors the same way they surface vendor errors.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// writeJSON sets the Content-Type header before the status: once the body
// starts, headers are locked in.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Type: typ}})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeError maps an error from the gateway or the card packages onto a
// status code:
//
//	unknown provider, missing card/profile  404
//	config error, invalid request           400
//	vendor API error, transport failure     502
//	timeout                                 504
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func classify(err error) (int, errorDetail) {
	d := errorDetail{Message: err.Error()}

	var apiErr *provider.APIError
	var cfgErr *provider.ConfigError
	switch {
	case errors.Is(err, provider.ErrTimeout):
		d.Type = "timeout"
		return http.StatusGatewayTimeout, d
	case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, card.ErrNotFound):
		d.Type = "not_found_error"
		return http.StatusNotFound, d
	case errors.As(err, &apiErr):
		d.Type = "provider_error"
		d.Message = apiErr.Message
		d.Provider = string(apiErr.Provider)
		if apiErr.StatusCode != 0 {
			d.Code = fmt.Sprint(apiErr.StatusCode)
		}
		return http.StatusBadGateway, d
	case errors.As(err, &cfgErr), errors.Is(err, provider.ErrInvalidRequest), errors.Is(err, card.ErrInvalid):
		d.Type = "invalid_request_error"
		return http.StatusBadRequest, d
	case errors.As(err, new(*provider.TransportError)):
		d.Type = "provider_unavailable"
		return http.StatusBadGateway, d
	}
	d.Type = "server_error"
	return http.StatusInternalServerError, d
}
