package models

import "time"

type RecipientKind string

const (
	RecipientCitizen  RecipientKind = "citizen"
	RecipientFacility RecipientKind = "facility"
	RecipientContact  RecipientKind = "contact"
)

type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   string        `json:"id"`
}

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// DeliveryRecord 单个接收方针对单个事件的投递记录，投递成功后不可再变更
type DeliveryRecord struct {
	RecipientKind RecipientKind `json:"recipientKind"`
	RecipientID   string        `json:"recipientId"`
	Event         string        `json:"event"`
	State         DeliveryState `json:"state"`
	Attempts      int           `json:"attempts"`
	NextRetryAt   *time.Time    `json:"nextRetryAt,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (d DeliveryRecord) Key() string {
	return string(d.RecipientKind) + ":" + d.RecipientID + ":" + d.Event
}
