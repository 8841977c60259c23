// internal/common/utils/response.go
// Standardized API responses ensure consistency across all endpoints

package utils

import (
    "encoding/json"
    "net/http"
)

// Response is the standard envelope for successful payloads
type Response struct {
    Success bool        `json:"success"`
    Message string      `json:"message,omitempty"`
    Data    interface{} `json:"data,omitempty"`
}

// RespondWithError sends an error response with the specified status code and message
func RespondWithError(w http.ResponseWriter, code int, message string) {
    RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithJSON sends a JSON response with the specified status code and payload
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
    response, err := json.Marshal(payload)
    if err != nil {
        w.WriteHeader(http.StatusInternalServerError)
        w.Write([]byte(`{"error":"Error marshaling JSON"}`))
        return
    }

    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    w.Write(response)
}

// RespondWithData sends a success response with data wrapped in a standard format
func RespondWithData(w http.ResponseWriter, code int, data interface{}) {
    RespondWithJSON(w, code, Response{Success: true, Data: data})
}

// RespondWithMessage sends a success response carrying only a message
func RespondWithMessage(w http.ResponseWriter, code int, message string) {
    RespondWithJSON(w, code, Response{Success: true, Message: message})
}
