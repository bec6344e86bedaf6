package domain

import "time"

// FormDefinition is the minimal form identity the engine routes against.
// Field layout and rendering live outside this service.
type FormDefinition struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Slug    string    `json:"slug"`
	Active  bool      `json:"active"`
	Created time.Time `json:"created"`
}
