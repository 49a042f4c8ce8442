package models

import (
	"time"
)

type SessionState string

const (
	StateActivated SessionState = "activated"
	StateMatching  SessionState = "matching"
	StateAssigned  SessionState = "assigned"
	StateEnRoute   SessionState = "en_route"
	StateResolved  SessionState = "resolved"
	StateAbandoned SessionState = "abandoned"
)

func (s SessionState) Terminal() bool {
	return s == StateResolved || s == StateAbandoned
}

// AbandonReason 区分系统失败与用户主动取消
type AbandonReason string

const (
	ReasonNone       AbandonReason = ""
	ReasonNoCoverage AbandonReason = "no_coverage"
	ReasonCancelled  AbandonReason = "cancelled"
)

type CoordinateFix struct {
	Coordinate
	At time.Time `json:"at"`
}

// SosSession 一次 SOS 求助从触发到结束的完整记录
type SosSession struct {
	ID                 string           `json:"id" gorm:"primaryKey;size:64"`
	CitizenID          string           `json:"citizenId" gorm:"size:64;index"`
	Latitude           float64          `json:"latitude"`
	Longitude          float64          `json:"longitude"`
	Track              []CoordinateFix  `json:"track,omitempty" gorm:"serializer:json"`
	ActivatedAt        time.Time        `json:"activatedAt"`
	State              SessionState     `json:"state" gorm:"size:32;index"`
	Reason             AbandonReason    `json:"reason,omitempty" gorm:"size:32"`
	FacilityID         *string          `json:"facilityId,omitempty" gorm:"size:64"`
	Excluded           []string         `json:"excluded" gorm:"serializer:json"`
	Capabilities       []string         `json:"capabilities,omitempty" gorm:"serializer:json"`
	Contacts           []string         `json:"contacts,omitempty" gorm:"serializer:json"`
	Locale             string           `json:"locale,omitempty" gorm:"size:16"`
	Deliveries         []DeliveryRecord `json:"deliveries,omitempty" gorm:"serializer:json"`
	CancelledByCitizen bool             `json:"cancelledByCitizen,omitempty"`
	DriverContact      string           `json:"driverContact,omitempty" gorm:"size:32"`
	LastFixAt          time.Time        `json:"lastFixAt"`
	TerminalAt         *time.Time       `json:"terminalAt,omitempty" gorm:"index"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

func (s *SosSession) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

func (s *SosSession) AssignedFacility() string {
	if s.FacilityID == nil {
		return ""
	}
	return *s.FacilityID
}

func (s *SosSession) IsExcluded(facilityID string) bool {
	for _, id := range s.Excluded {
		if id == facilityID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of the owning manager.
func (s *SosSession) Clone() *SosSession {
	out := *s
	out.Track = append([]CoordinateFix(nil), s.Track...)
	out.Excluded = append([]string{}, s.Excluded...)
	out.Capabilities = append([]string(nil), s.Capabilities...)
	out.Contacts = append([]string(nil), s.Contacts...)
	out.Deliveries = append([]DeliveryRecord(nil), s.Deliveries...)
	if s.FacilityID != nil {
		id := *s.FacilityID
		out.FacilityID = &id
	}
	if s.TerminalAt != nil {
		t := *s.TerminalAt
		out.TerminalAt = &t
	}
	return &out
}

type EventKind string

const (
	EventState          EventKind = "state"
	EventLocation       EventKind = "location"
	EventDeliveryFailed EventKind = "delivery_failed"
)

// SessionEvent 推送给市民端、医院控制台与紧急联系人的状态变化
type SessionEvent struct {
	Kind       EventKind       `json:"kind"`
	SessionID  string          `json:"sessionId"`
	CitizenID  string          `json:"citizenId"`
	State      SessionState    `json:"state"`
	Reason     AbandonReason   `json:"reason,omitempty"`
	FacilityID string          `json:"facilityId,omitempty"`
	Coordinate Coordinate      `json:"coordinate"`
	Driver     string          `json:"driverContact,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Contacts   []string        `json:"-"`
	Locale     string          `json:"-"`
	Delivery   *DeliveryRecord `json:"delivery,omitempty"`
}
