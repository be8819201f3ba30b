package respond

import (
	"encoding/json"
	"log"
	"net/http"
)

const (
	CODE_INTERNAL_ERROR          = 1000
	CODE_INVALID_JSON            = 1001
	CODE_INVALID_CREDENTIALS     = 1002
	CODE_REFRESH_COOKIE_MISSING  = 1003
	CODE_REFRESH_SESSION_INVALID = 1004
	CODE_AUTH_HEADER_MISSING     = 1005
	CODE_AUTH_TOKEN_INVALID      = 1006
)

type Error struct {
	Code int    `json:"code"`
	Text string `json:"text,omitempty"`
}

func ErrorWithCode(w http.ResponseWriter, httpCode, appCode int) {
	w.WriteHeader(httpCode)
	JSON(w, Error{Code: appCode})
}

func ErrorWithText(w http.ResponseWriter, httpCode, appCode int, errText string) {
	w.WriteHeader(httpCode)
	JSON(w, Error{Code: appCode, Text: errText})
}

func JSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
