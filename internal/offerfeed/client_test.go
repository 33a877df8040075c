package offerfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetOffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/offers/cpx" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Offer{
			{OfferID: "OFF1", Name: "Install game", Country: "US", PayoutPoints: 500, IsActive: true},
			{OfferID: "OFF2", Name: "Survey", PayoutPoints: 120, IsActive: false},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	offers, err := c.GetOffers(context.Background(), "cpx")
	if err != nil {
		t.Fatalf("get offers: %v", err)
	}

	if len(offers) != 2 {
		t.Fatalf("offers count = %d, want 2", len(offers))
	}
	if offers[0].OfferID != "OFF1" || offers[0].PayoutPoints != 500 {
		t.Fatalf("unexpected first offer: %+v", offers[0])
	}
}

func TestGetOffers_EmptyCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	offers, err := c.GetOffers(context.Background(), "ayet")
	if err != nil {
		t.Fatalf("get offers: %v", err)
	}
	if offers != nil {
		t.Fatalf("offers = %v, want nil for empty catalog", offers)
	}
}

func TestGetOffers_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	if _, err := c.GetOffers(context.Background(), "unknown"); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestGetOffers_NotConfigured(t *testing.T) {
	var c *Client

	if _, err := c.GetOffers(context.Background(), "cpx"); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
