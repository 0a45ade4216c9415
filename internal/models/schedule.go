package models

import "time"

// Schedule is the structured shoot schedule derived from one processed
// inbound item. Exactly one schedule exists per successfully processed item;
// downstream enrichment (routes, weather, calendar) owns it afterwards.
type Schedule struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	UserID      string    `json:"user_id"`
	ShootDate   string    `json:"shoot_date"`
	CallTime    string    `json:"call_time"`
	Location    string    `json:"location"`
	Scenes      []string  `json:"scenes,omitempty"`
	SafetyNotes string    `json:"safety_notes,omitempty"`
	Equipment   []string  `json:"equipment,omitempty"`
	Contacts    []string  `json:"contacts,omitempty"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}
