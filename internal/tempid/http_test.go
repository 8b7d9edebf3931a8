package tempid

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tempid":
			_, _ = w.Write([]byte(`{"tempID":"SUQx","expiryTime":1900000000}`))
		case "/tempids":
			_, _ = w.Write([]byte(`{"tempIDs":[{"tempID":"SUQx","expiryTime":1},{"tempID":""},{"tempID":"SUQy","expiryTime":2}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL + "/")
	id, err := f.FetchTempID(context.Background())
	if err != nil || id.Value != "SUQx" || id.ExpiresAt.Unix() != 1900000000 {
		t.Fatalf("unexpected temp id %+v err=%v", id, err)
	}
	ids, err := f.FetchBatchTempIDs(context.Background())
	if err != nil || len(ids) != 2 || ids[1].Value != "SUQy" {
		t.Fatalf("unexpected batch %+v err=%v", ids, err)
	}
}

func TestHTTPFetcherNoValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tempid" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL)
	if _, err := f.FetchTempID(context.Background()); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}
	if _, err := f.FetchBatchTempIDs(context.Background()); err == nil || errors.Is(err, ErrNoValue) {
		t.Fatalf("expected status error, got %v", err)
	}
}
