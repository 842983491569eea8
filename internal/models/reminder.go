package models

type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryOpened    DeliveryStatus = "opened"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is one reminder message on one channel.
type Delivery struct {
	MessageID     string         `json:"messageId"`
	AppointmentID string         `json:"appointmentId"`
	Bucket        string         `json:"bucket"`
	Channel       string         `json:"channel"`
	Status        DeliveryStatus `json:"status"`
	Error         string         `json:"error,omitempty"`
}
