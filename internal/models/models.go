package models

import "time"

// CapacityClass says how an item's quantity is measured and which
// vehicle types can carry it.
type CapacityClass string

const (
	CapacityWeight CapacityClass = "KG"
	CapacityUnit   CapacityClass = "UNIT"
)

// PaymentStatus of a pickup request.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// ShipmentStatus lifecycle: PENDING -> PICKED_UP -> DELIVERED.
type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "PENDING"
	ShipmentPickedUp  ShipmentStatus = "PICKED_UP"
	ShipmentDelivered ShipmentStatus = "DELIVERED"
)

// TripProfile is the cost-divisor policy of a vehicle type. Single-trip
// vehicles carry their full daily figures per delivery; shared-trip
// vehicles spread them across max pickups per day.
type TripProfile string

const (
	TripSingle TripProfile = "SINGLE"
	TripShared TripProfile = "SHARED"
)

type ItemRequest struct {
	ItemName      string        `json:"itemName"`
	Quantity      int           `json:"quantity"`
	CapacityClass CapacityClass `json:"measurementType,omitempty"`
}

type PickupRequestInput struct {
	OriginalExternalOrderID string        `json:"originalExternalOrderId"`
	OriginCompany           string        `json:"originCompany"`
	DestinationCompany      string        `json:"destinationCompany"`
	RequestingCompany       string        `json:"requestingCompany,omitempty"`
	Items                   []ItemRequest `json:"items"`
}

type RequestItem struct {
	ID              int64         `json:"pickupRequestItemId"`
	PickupRequestID int64         `json:"pickupRequestId"`
	ItemName        string        `json:"itemName"`
	Quantity        int           `json:"quantity"`
	CapacityClass   CapacityClass `json:"measurementType"`
	ShipmentID      *int64        `json:"shipmentId,omitempty"` // nil until assigned
}

type PickupRequest struct {
	ID                      int64         `json:"pickupRequestId"`
	RequestingCompany       string        `json:"requestingCompanyName"`
	OriginCompany           string        `json:"originCompanyName"`
	DestinationCompany      string        `json:"destinationCompanyName"`
	OriginalExternalOrderID string        `json:"originalExternalOrderId"`
	Cost                    int64         `json:"cost"`
	PaymentStatus           PaymentStatus `json:"paymentStatus"`
	PaymentReferenceID      string        `json:"paymentReferenceId,omitempty"`
	RequestDate             time.Time     `json:"requestDate"`
	CompletionDate          *time.Time    `json:"completionDate"`
	Items                   []RequestItem `json:"items"`
}

// Unassigned reports whether any item still lacks a shipment reference.
func (p *PickupRequest) Unassigned() bool {
	for i := range p.Items {
		if p.Items[i].ShipmentID == nil {
			return true
		}
	}
	return false
}

type VehicleType struct {
	ID                int64         `json:"vehicleTypeId"`
	Name              string        `json:"name"`
	CapacityClass     CapacityClass `json:"capacityType"`
	MaximumCapacity   int           `json:"maximumCapacity"`
	MaxPickupsPerDay  int           `json:"maxPickupsPerDay"`
	MaxDropoffsPerDay int           `json:"maxDropoffsPerDay"`
	TripProfile       TripProfile   `json:"tripProfile"`
}

type Vehicle struct {
	ID                   int64       `json:"vehicleId"`
	Type                 VehicleType `json:"vehicleType"`
	IsActive             bool        `json:"isActive"`
	DailyOperationalCost float64     `json:"dailyOperationalCost"`
	PurchaseDate         time.Time   `json:"purchaseDate"`
}

// Loan figures are consumed in aggregate by the cost model.
type Loan struct {
	ID           int64   `json:"loanId"`
	LoanNumber   string  `json:"loanNumber"`
	Principal    float64 `json:"loanAmount"`
	InterestRate float64 `json:"interestRate"`
}

// PlannedItem is one item chunk assigned to a vehicle; Quantity may be
// less than the item's full quantity for partial Pass-2 assignments.
type PlannedItem struct {
	Item     RequestItem `json:"item"`
	Quantity int         `json:"quantityAssigned"`
}

// ShipmentPlan is the transient per-vehicle output of one planning run.
type ShipmentPlan struct {
	Vehicle      Vehicle       `json:"vehicle"`
	DispatchDate time.Time     `json:"dispatchDate"`
	Items        []PlannedItem `json:"items"`
	CapacityUsed int           `json:"capacityUsed"`
	Origins      []string      `json:"origins"`
	Destinations []string      `json:"destinations"`
}

type DailyPlan struct {
	PlannedRequestIDs    []int64        `json:"plannedRequestIds"`
	CreatedShipmentsPlan []ShipmentPlan `json:"createdShipmentsPlan"`
}

type Shipment struct {
	ID           int64          `json:"shipmentId"`
	VehicleID    int64          `json:"vehicleId"`
	DispatchDate time.Time      `json:"dispatchDate"`
	Status       ShipmentStatus `json:"status"`
}

// BankNotification is the webhook payload pushed by the commercial bank
// when money moves on our account. Description carries the payment
// reference of the pickup request being settled.
type BankNotification struct {
	TransactionNumber string  `json:"transaction_number"`
	Status            string  `json:"status"`
	Amount            float64 `json:"amount"`
	Timestamp         int64   `json:"timestamp"`
	From              string  `json:"from"`
	To                string  `json:"to"`
	Description       string  `json:"description"`
}

// ShipmentEvent is published to Kafka on lifecycle transitions and
// broadcast to dashboard websocket clients.
type ShipmentEvent struct {
	EventID         string    `json:"eventId"`
	Type            string    `json:"type"` // SHIPMENT_PLANNED, PICKED_UP, DELIVERED
	ShipmentID      int64     `json:"shipmentId"`
	VehicleID       int64     `json:"vehicleId"`
	PickupRequestID int64     `json:"pickupRequestId,omitempty"`
	DispatchDate    time.Time `json:"dispatchDate"`
	NotificationURL string    `json:"notificationUrl,omitempty"`
	Items           []Item    `json:"items,omitempty"`
}

// Item is the name/quantity pair carried in partner notifications.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// LogisticsNotification tells an origin or destination company that
// goods were collected or delivered.
type LogisticsNotification struct {
	ID              string `json:"id"`
	NotificationURL string `json:"-"`
	Type            string `json:"type"` // PICKUP or DELIVERY
	Quantity        int    `json:"quantity"`
	Items           []Item `json:"items"`
}
