package digitalrx

import "strings"

// Internal prescription statuses produced by the status mapping.
const (
	StatusSubmitted = "submitted"
	StatusPacked    = "packed"
	StatusApproved  = "approved"
	StatusPickedUp  = "picked_up"
	StatusDelivered = "delivered"
)

// StatusPayload is the pharmacy API's status response.
type StatusPayload struct {
	Status         string `json:"Status"`
	DeliveredDate  string `json:"DeliveredDate"`
	PickupDate     string `json:"PickupDate"`
	ApprovedDate   string `json:"ApprovedDate"`
	PackDateTime   string `json:"PackDateTime"`
	TrackingNumber string `json:"TrackingNumber"`
}

// statusByName maps the API's Status strings to internal statuses.
var statusByName = map[string]string{
	"delivered": StatusDelivered,
	"picked up": StatusPickedUp,
	"approved":  StatusApproved,
	"packed":    StatusPacked,
	"submitted": StatusSubmitted,
}

// MapStatus computes the internal status for a status payload. An explicit
// Status string wins when it matches a known value. Otherwise the most
// advanced date field present wins; a record accumulates date fields as it
// progresses, so checking in descending significance keeps the status from
// reverting. Unknown payloads keep the current status.
func MapStatus(p StatusPayload, current string) string {
	if p.Status != "" {
		if mapped, ok := statusByName[strings.ToLower(strings.TrimSpace(p.Status))]; ok {
			return mapped
		}
	}

	switch {
	case p.DeliveredDate != "":
		return StatusDelivered
	case p.PickupDate != "":
		return StatusPickedUp
	case p.ApprovedDate != "":
		return StatusApproved
	case p.PackDateTime != "":
		return StatusPacked
	}

	return current
}

// MapTracking returns the tracking number to store: the payload's when
// supplied, the current one otherwise.
func MapTracking(p StatusPayload, current string) string {
	if p.TrackingNumber != "" {
		return p.TrackingNumber
	}
	return current
}
