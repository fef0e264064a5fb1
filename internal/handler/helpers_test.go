package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faucetdb/basin/internal/apperr"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "page", 1, 1},
		{"parses integer param", "/test?per_page=100", "per_page", 15, 100},
		{"returns default for non-integer", "/test?per_page=abc", "per_page", 15, 15},
		{"parses zero", "/test?page=0", "page", 10, 0},
		{"parses negative", "/test?page=-5", "page", 0, -5},
		{"returns default for empty value", "/test?per_page=", "per_page", 15, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// writeAppError tests
// ---------------------------------------------------------------------------

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   []string
	}{
		{
			"taxonomy error",
			apperr.TableNotFound("ghosts"),
			http.StatusNotFound,
			[]string{`"success":false`, `"error_code":"TABLE_NOT_FOUND"`},
		},
		{
			"validation envelope",
			apperr.FieldError("price", "The price field must be a number."),
			http.StatusUnprocessableEntity,
			[]string{`"errors":{"price":["The price field must be a number."]}`, `"message"`},
		},
		{
			"wrapped taxonomy error",
			fmt.Errorf("outer: %w", apperr.Authorization(apperr.CodeAccessDenied, "no")),
			http.StatusForbidden,
			[]string{`"error_code":"ACCESS_DENIED"`},
		},
		{
			"unclassified storage error",
			errors.New("UNIQUE constraint failed: products.sku"),
			http.StatusConflict,
			[]string{`"error_code":"CONFLICT"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeAppError(w, tt.err)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected application/json, got %s", ct)
			}
			body := w.Body.String()
			for _, s := range tt.want {
				if !strings.Contains(body, s) {
					t.Errorf("body %s missing %s", body, s)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	t.Run("writes JSON with correct content type", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"hello":"world"`) {
			t.Errorf("expected JSON body, got: %s", body)
		}
	})
}

// ---------------------------------------------------------------------------
// readJSON tests
// ---------------------------------------------------------------------------

func TestReadJSON(t *testing.T) {
	var v map[string]any

	r := httptest.NewRequest("POST", "/", strings.NewReader(""))
	if !apperr.IsKind(readJSON(r, &v), apperr.KindBadRequest) {
		t.Error("empty body should be a bad request")
	}
	r = httptest.NewRequest("POST", "/", strings.NewReader("{nope"))
	if !apperr.IsKind(readJSON(r, &v), apperr.KindBadRequest) {
		t.Error("malformed body should be a bad request")
	}
	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"a":1}`))
	if err := readJSON(r, &v); err != nil || v["a"] != float64(1) {
		t.Errorf("readJSON = %v, %v", v, err)
	}
}

// ---------------------------------------------------------------------------
// classifyDBError tests
// ---------------------------------------------------------------------------

func TestClassifyDBError(t *testing.T) {
	tests := []struct {
		msg  string
		kind apperr.Kind
	}{
		{`duplicate key value violates unique constraint "users_email_key"`, apperr.KindConflict},
		{"Error 1062: Duplicate entry 'a' for key 'email'", apperr.KindConflict},
		{"NOT NULL constraint failed: products.name", apperr.KindBadRequest},
		{`null value in column "name" violates not-null constraint`, apperr.KindBadRequest},
		{"no such table: ghosts", apperr.KindNotFound},
		{`relation "ghosts" does not exist`, apperr.KindNotFound},
		{"Invalid object name 'ghosts'.", apperr.KindNotFound},
		{"FOREIGN KEY constraint failed", apperr.KindBadRequest},
		{"CHECK constraint failed: price", apperr.KindBadRequest},
		{"connection reset by peer", apperr.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			e := classifyDBError(errors.New(tt.msg), "Insert failed")
			if e.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", e.Kind, tt.kind)
			}
			if !strings.HasPrefix(e.Message, "Insert failed: ") || !strings.Contains(e.Message, tt.msg) {
				t.Errorf("message = %q", e.Message)
			}
		})
	}
}

func TestPathID(t *testing.T) {
	if id, err := pathID("42", "Webhook"); err != nil || id != 42 {
		t.Errorf("pathID(42) = %d, %v", id, err)
	}
	for _, raw := range []string{"0", "-1", "abc"} {
		if _, err := pathID(raw, "Webhook"); !apperr.IsKind(err, apperr.KindNotFound) {
			t.Errorf("pathID(%q) err = %v", raw, err)
		}
	}
}
