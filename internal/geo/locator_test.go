package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"
)

func TestHTTPLocatorSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","country":"Slovakia","city":"Bratislava"}`))
	}))
	defer srv.Close()

	loc, err := NewHTTPLocator(srv.URL+"/json/{ip}", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPLocator: %v", err)
	}

	got, err := loc.Locate(context.Background(), netip.MustParseAddr("8.8.8.8"))
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got.City != "Bratislava" || got.Country != "Slovakia" {
		t.Fatalf("Locate = %+v", got)
	}
	if gotPath != "/json/8.8.8.8" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestHTTPLocatorFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status fail": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
		},
		"http error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{`))
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			loc, err := NewHTTPLocator(srv.URL+"/{ip}", time.Second)
			if err != nil {
				t.Fatalf("NewHTTPLocator: %v", err)
			}
			_, err = loc.Locate(context.Background(), netip.MustParseAddr("1.1.1.1"))
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("Locate error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestNewHTTPLocatorRequiresPlaceholder(t *testing.T) {
	if _, err := NewHTTPLocator("http://example.com/json", time.Second); err == nil {
		t.Fatal("expected error without {ip}")
	}
	if _, err := NewHTTPLocator("", 0); err != nil {
		t.Fatalf("default endpoint rejected: %v", err)
	}
}
