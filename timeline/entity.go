// Package timeline holds the value types posted to a YARN Application
// Timeline Server and a client capability for putting them there.
package timeline

import (
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one timestamped occurrence inside an Entity.
type Event struct {
	Type      string                 `json:"eventtype"`
	Timestamp int64                  `json:"timestamp"`
	Info      map[string]interface{} `json:"eventinfo,omitempty"`
}

// Entity is the server-side aggregate keyed by (entityType, entityId). The
// field names below are the timeline server's REST schema and are a stable
// wire contract with reader-side consumers.
type Entity struct {
	EntityType string                 `json:"entitytype"`
	EntityID   string                 `json:"entity"`
	StartTime  int64                  `json:"starttime"`
	Events     []Event                `json:"events"`
	OtherInfo  map[string]interface{} `json:"otherinfo,omitempty"`
	// Filters are single-valued here; the server models primary filters as
	// sets, so MarshalJSON widens each value to a one-element list.
	Filters  map[string]string `json:"-"`
	DomainID string            `json:"domain,omitempty"`
}

// EventCount is the size of this entity for queue accounting.
func (e *Entity) EventCount() int {
	return len(e.Events)
}

// AddEvent appends ev to the entity's event sequence.
func (e *Entity) AddEvent(ev Event) {
	e.Events = append(e.Events, ev)
}

type wireEntity struct {
	EntityType     string                 `json:"entitytype"`
	EntityID       string                 `json:"entity"`
	StartTime      int64                  `json:"starttime"`
	Events         []Event                `json:"events"`
	OtherInfo      map[string]interface{} `json:"otherinfo,omitempty"`
	PrimaryFilters map[string][]string    `json:"primaryfilters,omitempty"`
	DomainID       string                 `json:"domain,omitempty"`
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	w := wireEntity{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		StartTime:  e.StartTime,
		Events:     e.Events,
		OtherInfo:  e.OtherInfo,
		DomainID:   e.DomainID,
	}
	if len(e.Filters) > 0 {
		w.PrimaryFilters = map[string][]string{}
		for k, v := range e.Filters {
			w.PrimaryFilters[k] = []string{v}
		}
	}
	return jsonAPI.Marshal(&w)
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	var w wireEntity
	if err := jsonAPI.Unmarshal(data, &w); err != nil {
		return err
	}
	e.EntityType = w.EntityType
	e.EntityID = w.EntityID
	e.StartTime = w.StartTime
	e.Events = w.Events
	e.OtherInfo = w.OtherInfo
	e.DomainID = w.DomainID
	e.Filters = nil
	if len(w.PrimaryFilters) > 0 {
		e.Filters = map[string]string{}
		for k, vs := range w.PrimaryFilters {
			if len(vs) > 0 {
				e.Filters[k] = vs[0]
			}
		}
	}
	return nil
}

// Domain is a named access-control namespace holding entities.
type Domain struct {
	ID      string `json:"id"`
	Readers string `json:"readers"`
	Writers string `json:"writers"`
}

// PutError is one per-entity failure inside an otherwise successful put.
type PutError struct {
	EntityID   string `json:"entity"`
	EntityType string `json:"entitytype"`
	ErrorCode  int    `json:"errorcode"`
}

// PutResponse is the server's answer to a put. A 2xx response may still carry
// per-entity errors; those are permanent rejections, not transport failures.
type PutResponse struct {
	Errors []PutError `json:"errors"`
}

// HasErrors reports whether any entity in the batch was rejected.
func (r *PutResponse) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}
