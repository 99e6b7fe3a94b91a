package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Seeder writes itinerary records as given, replacing existing ones with the same id.
type Seeder interface {
	SaveTrip(ctx context.Context, t models.Trip) error
	SaveStep(ctx context.Context, s models.Step) error
	SaveLodging(ctx context.Context, l models.Lodging) error
	SaveActivity(ctx context.Context, a models.Activity) error
}

// Seed is the YAML document loaded by LoadSeed.
type Seed struct {
	Trips []SeedTrip `yaml:"trips"`
}

type SeedTrip struct {
	ID          string     `yaml:"id"`
	Owner       string     `yaml:"owner"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	StartDate   string     `yaml:"start_date"`
	EndDate     string     `yaml:"end_date"`
	Steps       []SeedStep `yaml:"steps"`
}

type SeedStep struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Kind       string         `yaml:"kind"`
	Address    string         `yaml:"address"`
	Arrival    string         `yaml:"arrival"`
	Departure  string         `yaml:"departure"`
	Lodgings   []SeedLodging  `yaml:"lodgings"`
	Activities []SeedActivity `yaml:"activities"`
}

type SeedLodging struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	Active    *bool  `yaml:"active"` // default true
	Arrival   string `yaml:"arrival"`
	Departure string `yaml:"departure"`
}

type SeedActivity struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Active  *bool  `yaml:"active"` // default true
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return &seed, nil
}

func (s *Seed) validate() error {
	seen := make(map[string]bool)
	child := func(kind, stepID string, j int, id string) error {
		if id == "" {
			return fmt.Errorf("step %s %s %d: missing id", stepID, kind, j)
		}
		if seen[kind+":"+id] {
			return fmt.Errorf("step %s: duplicate %s id %q", stepID, kind, id)
		}
		seen[kind+":"+id] = true
		return nil
	}

	for i, t := range s.Trips {
		if t.ID == "" {
			return fmt.Errorf("trip %d: missing id", i)
		}
		for j, st := range t.Steps {
			if st.ID == "" {
				return fmt.Errorf("trip %s step %d: missing id", t.ID, j)
			}
			switch models.StepKind(st.Kind) {
			case "", models.StepKindWaypoint:
			case models.StepKindPassThrough:
				if len(st.Lodgings) > 0 || len(st.Activities) > 0 {
					return fmt.Errorf("step %s: pass-through steps cannot own lodgings or activities", st.ID)
				}
			default:
				return fmt.Errorf("step %s: unknown kind %q", st.ID, st.Kind)
			}
			for j, l := range st.Lodgings {
				if err := child("lodging", st.ID, j, l.ID); err != nil {
					return err
				}
			}
			for j, a := range st.Activities {
				if err := child("activity", st.ID, j, a.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Apply writes every record of the seed to the store.
func (s *Seed) Apply(ctx context.Context, store Seeder) error {
	var steps, children int
	for _, t := range s.Trips {
		err := store.SaveTrip(ctx, models.Trip{
			ID: t.ID, Owner: t.Owner, Name: t.Name, Description: t.Description,
			StartDate: t.StartDate, EndDate: t.EndDate,
		})
		if err != nil {
			return fmt.Errorf("save trip %s: %w", t.ID, err)
		}

		for _, st := range t.Steps {
			kind := models.StepKind(st.Kind)
			if kind == "" {
				kind = models.StepKindWaypoint
			}
			err := store.SaveStep(ctx, models.Step{
				ID: st.ID, TripID: t.ID, Name: st.Name, Kind: kind, Address: st.Address,
				ArrivalDateTime:         models.Timestamp(st.Arrival),
				DepartureDateTime:       models.Timestamp(st.Departure),
				IsArrivalTimeConsistent: true,
				ConsistencyNote:         models.NoteOK,
			})
			if err != nil {
				return fmt.Errorf("save step %s: %w", st.ID, err)
			}
			steps++

			for _, l := range st.Lodgings {
				err := store.SaveLodging(ctx, models.Lodging{
					ID: l.ID, StepID: st.ID, Name: l.Name, Address: l.Address, Active: activeOrDefault(l.Active),
					ArrivalDateTime:   models.Timestamp(l.Arrival),
					DepartureDateTime: models.Timestamp(l.Departure),
				})
				if err != nil {
					return fmt.Errorf("save lodging %s: %w", l.ID, err)
				}
				children++
			}
			for _, a := range st.Activities {
				err := store.SaveActivity(ctx, models.Activity{
					ID: a.ID, StepID: st.ID, Name: a.Name, Address: a.Address, Active: activeOrDefault(a.Active),
					StartDateTime: models.Timestamp(a.Start),
					EndDateTime:   models.Timestamp(a.End),
				})
				if err != nil {
					return fmt.Errorf("save activity %s: %w", a.ID, err)
				}
				children++
			}
		}
	}
	slog.Info("seed applied", "trips", len(s.Trips), "steps", steps, "children", children)
	return nil
}

func activeOrDefault(b *bool) bool {
	return b == nil || *b
}
