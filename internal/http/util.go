package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// maxBodyBytes request body limit for JSON endpoints
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// readBodyJSON decodes at most maxBytes of the body into out. An empty body is errEmptyBody.
func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(body, out)
}

// patientID reads ?patient_id=, falling back to def.
func patientID(r *http.Request, def string) string {
	if id := r.URL.Query().Get("patient_id"); id != "" {
		return id
	}
	return def
}
