package api

import (
	"encoding/json"
	"net/http"
)

// apiSchemaVersion tags every response envelope's meta block.
const apiSchemaVersion = "v2"

type apiEnvelope struct {
	Links map[string]string `json:"_links,omitempty"`
	Meta  map[string]any    `json:"_meta,omitempty"`
	Data  any               `json:"data,omitempty"`
	Error any               `json:"error,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, data any, meta map[string]any, links map[string]string) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["schema_version"] = apiSchemaVersion
	json.NewEncoder(w).Encode(apiEnvelope{
		Links: links,
		Meta:  meta,
		Data:  data,
	})
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{
		Error: map[string]string{"message": message},
	})
}

// writeFieldError is writeAPIError with the offending field attached, used
// for parameter validation failures.
func writeFieldError(w http.ResponseWriter, status int, field, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{
		Error: map[string]string{"field": field, "message": message},
	})
}
