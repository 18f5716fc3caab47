package adminauth

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyCreatedOnceThenReused(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "jwt.key")
	a1, err := LoadOrCreateKey(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a2, err := LoadOrCreateKey(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !bytes.Equal(a1.key, a2.key) {
		t.Fatalf("key regenerated")
	}
	st, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("key file mode=%v", st.Mode())
	}
	if _, err := LoadKey(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("LoadKey created a key")
	}
}

func TestMintParse(t *testing.T) {
	a := NewWithKey(bytes.Repeat([]byte{7}, keyLen))
	tok, err := a.Mint("ops", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	sub, err := a.Parse(tok)
	if err != nil || sub != "ops" {
		t.Fatalf("sub=%q err=%v", sub, err)
	}

	other := NewWithKey(bytes.Repeat([]byte{8}, keyLen))
	if _, err := other.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign key err=%v", err)
	}
	expired, _ := a.Mint("ops", -time.Minute)
	if _, err := a.Parse(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired err=%v", err)
	}
	if _, err := a.Parse(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty err=%v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	a := NewWithKey(bytes.Repeat([]byte{7}, keyLen))
	h := a.RequireAuth(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	}))
	tok, _ := a.Mint("ops", time.Hour)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"none", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + tok, "", http.StatusNoContent},
		{"query", "", "?token=" + tok, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/v1/state"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("code=%d want %d", rec.Code, tc.want)
			}
		})
	}
}
