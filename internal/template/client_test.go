package template

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchPrefersHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"code":"welcome","subject":"Hi {{name}}","html_body":"<p>hi</p>","text_body":"hi","variables":["name"],"language":"en"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	d, err := c.Fetch(context.Background(), "welcome")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Body != "<p>hi</p>" {
		t.Fatalf("expected html_body preferred, got %q", d.Body)
	}
}

func TestFetchFallsBackToTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"code":"welcome","subject":"Hi","html_body":"","text_body":"plain","variables":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	d, err := c.Fetch(context.Background(), "welcome")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Body != "plain" {
		t.Fatalf("expected text_body fallback, got %q", d.Body)
	}
}

func TestFetchErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background(), "welcome")
	if err == nil {
		t.Fatalf("expected error on 5xx")
	}
	if _, ok := err.(*FetchError); !ok {
		t.Fatalf("expected *FetchError, got %T", err)
	}
}

func TestFetchErrorsOnSuccessFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"unknown template"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error on success=false")
	}
}

func TestFetchErrorsOnMissingData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error on missing data")
	}
}
