package model

type SlotStatus string

const (
	SlotAvailable    SlotStatus = "AVAILABLE"
	SlotBooked       SlotStatus = "BOOKED"
	SlotOutsideHours SlotStatus = "OUTSIDE_HOURS"
)

// TimeSlot is one row of the availability grid. It is derived on every query and never stored.
type TimeSlot struct {
	Start           Clock      `json:"-"`
	Time            string     `json:"time"`
	DisplayTime     string     `json:"displayTime"`
	Status          SlotStatus `json:"status"`
	IsBusinessHours bool       `json:"isBusinessHours"`
}
