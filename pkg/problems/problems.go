package problems

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// New builds a problem whose type is Type(slug).
func New(status int, slug, title, detail string) Problem {
	return Problem{Type: Type(slug), Title: title, Status: status, Detail: detail}
}

// Write sends p as application/problem+json with p.Status.
func Write(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Shortcuts for the problems every handler emits.

func Unauthorized(w http.ResponseWriter, detail string) {
	Write(w, New(http.StatusUnauthorized, "unauthorized", "Unauthorized", detail))
}

func BadRequest(w http.ResponseWriter, detail string) {
	Write(w, New(http.StatusBadRequest, "bad-request", "Bad request", detail))
}

func NotFound(w http.ResponseWriter, detail string) {
	Write(w, New(http.StatusNotFound, "not-found", "Not found", detail))
}

func Internal(w http.ResponseWriter) {
	Write(w, New(http.StatusInternalServerError, "internal", "Internal error", ""))
}
