package digitalrx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/RxWebRequest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer api-key-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req SubmitRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if req.StoreID != "STORE42" {
			t.Errorf("expected store id from credentials, got %q", req.StoreID)
		}
		if req.VendorName != "telerx" {
			t.Errorf("expected vendor name from client, got %q", req.VendorName)
		}
		json.NewEncoder(w).Encode(SubmitResponse{QueueID: "190190", Status: "Submitted"})
	}))
	defer srv.Close()

	c := NewClient("telerx")
	creds := Credentials{APIKey: "api-key-1", BaseURL: srv.URL, StoreID: "STORE42"}
	resp, err := c.Submit(context.Background(), creds, SubmitRequest{
		Patient: Patient{FirstName: "Ana", LastName: "Diaz"},
		Doctor:  Doctor{FirstName: "Sam", LastName: "Lee", NPI: "1234567890"},
		RxClaim: RxClaim{DrugName: "Semaglutide", Quantity: "1", Refills: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.QueueID != "190190" {
		t.Errorf("unexpected queue id %q", resp.QueueID)
	}
}

func TestSubmit_MissingQueueID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SubmitResponse{Message: "store closed"})
	}))
	defer srv.Close()

	c := NewClient("telerx")
	_, err := c.Submit(context.Background(), Credentials{BaseURL: srv.URL}, SubmitRequest{})
	if err == nil {
		t.Fatal("expected error when no queue id returned")
	}
}

func TestStatus_StripsQueuePrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/RxRequestStatus" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			StoreID string `json:"StoreID"`
			QueueID string `json:"QueueID"`
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)
		// The internal "RX-190190" queue id goes out as "190190".
		if req.QueueID != "190190" {
			t.Errorf("expected RX- prefix stripped, got %q", req.QueueID)
		}
		json.NewEncoder(w).Encode(StatusPayload{PackDateTime: "2025-01-01T00:00:00Z", TrackingNumber: "1Z999"})
	}))
	defer srv.Close()

	c := NewClient("telerx")
	payload, err := c.Status(context.Background(), Credentials{BaseURL: srv.URL, StoreID: "S1"}, "RX-190190")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.PackDateTime == "" {
		t.Error("expected pack date in payload")
	}
	if payload.TrackingNumber != "1Z999" {
		t.Errorf("unexpected tracking number %q", payload.TrackingNumber)
	}
}

func TestStatus_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("telerx")
	if _, err := c.Status(context.Background(), Credentials{BaseURL: srv.URL}, "RX-1"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
