package digitalrx

import "testing"

func TestMapStatus_ExplicitStatusWins(t *testing.T) {
	cases := []struct {
		status string
		want   string
	}{
		{"delivered", StatusDelivered},
		{"Delivered", StatusDelivered},
		{"PICKED UP", StatusPickedUp},
		{"approved", StatusApproved},
		{"packed", StatusPacked},
		{"submitted", StatusSubmitted},
		{" delivered ", StatusDelivered},
	}
	for _, tc := range cases {
		got := MapStatus(StatusPayload{Status: tc.status}, "submitted")
		if got != tc.want {
			t.Errorf("MapStatus(Status=%q) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestMapStatus_UnknownStatusFallsThroughToDates(t *testing.T) {
	p := StatusPayload{Status: "in transit", PackDateTime: "2025-01-01T00:00:00Z"}
	if got := MapStatus(p, "submitted"); got != StatusPacked {
		t.Errorf("expected packed via date fallback, got %q", got)
	}
}

func TestMapStatus_DeliveredDateWinsOverEverything(t *testing.T) {
	p := StatusPayload{
		DeliveredDate: "2025-01-04T00:00:00Z",
		PickupDate:    "2025-01-03T00:00:00Z",
		ApprovedDate:  "2025-01-02T00:00:00Z",
		PackDateTime:  "2025-01-01T00:00:00Z",
	}
	if got := MapStatus(p, "submitted"); got != StatusDelivered {
		t.Errorf("expected delivered, got %q", got)
	}
}

func TestMapStatus_DatePriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		p    StatusPayload
		want string
	}{
		{"pickup over approved", StatusPayload{PickupDate: "x", ApprovedDate: "x"}, StatusPickedUp},
		{"approved over packed", StatusPayload{ApprovedDate: "x", PackDateTime: "x"}, StatusApproved},
		{"packed alone", StatusPayload{PackDateTime: "2025-01-01T00:00:00Z"}, StatusPacked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MapStatus(tc.p, "submitted"); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMapStatus_PackDateFromSubmitted(t *testing.T) {
	// A pack date on a still-submitted record advances it to packed.
	p := StatusPayload{PackDateTime: "2025-01-01T00:00:00Z"}
	if got := MapStatus(p, "submitted"); got != StatusPacked {
		t.Errorf("got %q, want packed", got)
	}
}

func TestMapStatus_EmptyPayloadKeepsCurrent(t *testing.T) {
	if got := MapStatus(StatusPayload{}, "approved"); got != "approved" {
		t.Errorf("expected current status preserved, got %q", got)
	}
}

func TestMapTracking(t *testing.T) {
	if got := MapTracking(StatusPayload{TrackingNumber: "1Z999"}, "old"); got != "1Z999" {
		t.Errorf("expected new tracking number, got %q", got)
	}
	if got := MapTracking(StatusPayload{}, "1Z000"); got != "1Z000" {
		t.Errorf("expected tracking number carried forward, got %q", got)
	}
}

func TestNormalizeQueueID(t *testing.T) {
	if got := NormalizeQueueID("RX-190190"); got != "190190" {
		t.Errorf("expected prefix stripped, got %q", got)
	}
	if got := NormalizeQueueID("190190"); got != "190190" {
		t.Errorf("expected unprefixed id unchanged, got %q", got)
	}
}
