package models

// StepKind distinguishes steps that may own children from pass-through points.
type StepKind string

const (
	StepKindWaypoint    StepKind = "waypoint"
	StepKindPassThrough StepKind = "pass_through"
)

// ConsistencyNote classifies whether the travel time into a step fits the available gap.
type ConsistencyNote string

const (
	NoteOK      ConsistencyNote = "OK"
	NoteWarning ConsistencyNote = "WARNING"
	NoteError   ConsistencyNote = "ERROR"
)

// Step is a waypoint within a trip.
// Only the window and travel fields are written by the consistency engine.
type Step struct {
	ID                string    `json:"id"`
	TripID            string    `json:"trip_id"`
	Name              string    `json:"name"`
	Kind              StepKind  `json:"kind"`
	Address           string    `json:"address,omitempty"`
	ArrivalDateTime   Timestamp `json:"arrival_date_time,omitempty"`
	DepartureDateTime Timestamp `json:"departure_date_time,omitempty"`

	TravelTimePreviousStep  *int            `json:"travel_time_previous_step"` // minutes
	DistancePreviousStep    *float64        `json:"distance_previous_step"`    // kilometers
	IsArrivalTimeConsistent bool            `json:"is_arrival_time_consistent"`
	ConsistencyNote         ConsistencyNote `json:"consistency_note,omitempty"`

	Narrative string `json:"narrative,omitempty"`
}

// WithDefaults fills the fields a new step may omit. A step whose hop was never
// evaluated reads as consistent with note OK, the same as a trip's first step.
func (s Step) WithDefaults() Step {
	if s.Kind == "" {
		s.Kind = StepKindWaypoint
	}
	if s.ConsistencyNote == "" {
		s.IsArrivalTimeConsistent = true
		s.ConsistencyNote = NoteOK
	}
	return s
}

// IsPassThrough reports whether the step can never own lodging or activity records.
func (s Step) IsPassThrough() bool {
	return s.Kind == StepKindPassThrough
}

// StepTravel is the set of fields describing the hop from the previous step.
type StepTravel struct {
	TravelTimeMinutes *int            `json:"travel_time_previous_step"`
	DistanceKm        *float64        `json:"distance_previous_step"`
	Consistent        bool            `json:"is_arrival_time_consistent"`
	Note              ConsistencyNote `json:"consistency_note"`
}

// Travel returns the travel fields currently stored on the step.
func (s Step) Travel() StepTravel {
	return StepTravel{
		TravelTimeMinutes: s.TravelTimePreviousStep,
		DistanceKm:        s.DistancePreviousStep,
		Consistent:        s.IsArrivalTimeConsistent,
		Note:              s.ConsistencyNote,
	}
}

// Lodging is a stay attached to a waypoint step.
// Inactive lodgings are kept but ignored by window computations.
type Lodging struct {
	ID                string    `json:"id"`
	StepID            string    `json:"step_id"`
	Name              string    `json:"name"`
	Address           string    `json:"address,omitempty"`
	Active            bool      `json:"active"`
	ArrivalDateTime   Timestamp `json:"arrival_date_time,omitempty"`
	DepartureDateTime Timestamp `json:"departure_date_time,omitempty"`
}

// Activity is something planned at a waypoint step.
type Activity struct {
	ID            string    `json:"id"`
	StepID        string    `json:"step_id"`
	Name          string    `json:"name"`
	Address       string    `json:"address,omitempty"`
	Active        bool      `json:"active"`
	StartDateTime Timestamp `json:"start_date_time,omitempty"`
	EndDateTime   Timestamp `json:"end_date_time,omitempty"`
}
