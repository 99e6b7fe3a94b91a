// Package models defines data structures for the tripsync itinerary database.
package models

// Trip is a top-level itinerary owned by a user.
// Steps are not ordered by an explicit field; order is inferred from step timestamps.
type Trip struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// Task is a to-do item attached to a trip, typically produced by bulk task generation.
type Task struct {
	ID          string `json:"id,omitempty"`
	TripID      string `json:"trip_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Done        bool   `json:"done"`
	Source      string `json:"source,omitempty"`
}

// Task sources.
const (
	TaskSourceUser = "user"
	TaskSourceAI   = "ai"
)
