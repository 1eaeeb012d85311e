package etl

import (
	"fmt"
	"strings"
)

// ── Dataset Descriptors ────────────────────────────────────
// One immutable descriptor per mirrored collection. Descriptors are passed
// explicitly to the paginator and the store.

// Descriptor identifies a remote dataset and how it is mirrored locally.
type Descriptor struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	FilterField string `json:"filterField"`
	PrimaryKey  string `json:"primaryKey"`
	Table       string `json:"table"`
	Schema      Schema `json:"schema"`
}

// KeyField returns the schema entry of the primary-key column.
func (d *Descriptor) KeyField() Field {
	f, _ := d.Schema.Field(d.PrimaryKey)
	return f
}

// WithEndpoint returns a copy of d pointing at another endpoint.
// Used when the remote base URL is overridden in configuration.
func (d *Descriptor) WithEndpoint(endpoint string) *Descriptor {
	c := *d
	c.Schema = Schema{Fields: append([]Field(nil), d.Schema.Fields...)}
	c.Endpoint = endpoint
	return &c
}

const (
	DatasetPerson  = "person"
	DatasetCrash   = "crash"
	DatasetVehicle = "vehicle"
	DatasetAll     = "all"
)

// DefaultBaseURL is the Socrata resource root for NYC Open Data.
const DefaultBaseURL = "https://data.cityofnewyork.us/resource"

func text(name string) Field    { return Field{Name: name, Type: FieldText, Length: DefaultTextLength} }
func reqText(name string) Field { f := text(name); f.Required = true; return f }
func integer(name string) Field { return Field{Name: name, Type: FieldInteger} }
func reqInt(name string) Field  { return Field{Name: name, Type: FieldInteger, Required: true} }
func float(name string) Field   { return Field{Name: name, Type: FieldFloat} }

func crashDate() Field { return Field{Name: "crash_date", Type: FieldTimestamp, Required: true} }

// Person mirrors Motor Vehicle Collisions - Person (f55k-p6yu).
var Person = &Descriptor{
	Name:        DatasetPerson,
	Endpoint:    DefaultBaseURL + "/f55k-p6yu.json",
	FilterField: "unique_id",
	PrimaryKey:  "unique_id",
	Table:       "person",
	Schema: Schema{Fields: []Field{
		reqInt("unique_id"),
		reqInt("collision_id"),
		crashDate(),
		reqText("crash_time"),
		reqText("person_id"),
		reqText("person_type"),
		reqText("person_injury"),
		integer("vehicle_id"),
		integer("person_age"),
		text("ejection"),
		text("emotional_status"),
		text("bodily_injury"),
		text("position_in_vehicle"),
		text("safety_equipment"),
		text("ped_location"),
		text("ped_action"),
		text("complaint"),
		text("ped_role"),
		text("contributing_factor_1"),
		text("contributing_factor_2"),
		text("person_sex"),
	}},
}

// Crash mirrors Motor Vehicle Collisions - Crashes (h9gi-nx95).
var Crash = &Descriptor{
	Name:        DatasetCrash,
	Endpoint:    DefaultBaseURL + "/h9gi-nx95.json",
	FilterField: "collision_id",
	PrimaryKey:  "collision_id",
	Table:       "crash",
	Schema: Schema{Fields: []Field{
		reqInt("collision_id"),
		crashDate(),
		reqText("crash_time"),
		text("borough"),
		text("zip_code"),
		float("latitude"),
		float("longitude"),
		{Name: "location", Type: FieldLocation, Length: DefaultTextLength},
		text("on_street_name"),
		text("cross_street_name"),
		// Free-form address text; observed well past 255 characters.
		{Name: "off_street_name", Type: FieldText},
		integer("number_of_persons_injured"),
		integer("number_of_persons_killed"),
		integer("number_of_pedestrians_injured"),
		integer("number_of_pedestrians_killed"),
		integer("number_of_cyclist_injured"),
		integer("number_of_cyclist_killed"),
		integer("number_of_motorist_injured"),
		integer("number_of_motorist_killed"),
		text("contributing_factor_vehicle_1"),
		text("contributing_factor_vehicle_2"),
		text("contributing_factor_vehicle_3"),
		text("contributing_factor_vehicle_4"),
		text("contributing_factor_vehicle_5"),
		text("vehicle_type_code1"),
		text("vehicle_type_code2"),
		text("vehicle_type_code_3"),
		text("vehicle_type_code_4"),
		text("vehicle_type_code_5"),
	}},
}

// Vehicle mirrors Motor Vehicle Collisions - Vehicles (bm4k-52h4).
var Vehicle = &Descriptor{
	Name:        DatasetVehicle,
	Endpoint:    DefaultBaseURL + "/bm4k-52h4.json",
	FilterField: "unique_id",
	PrimaryKey:  "unique_id",
	Table:       "vehicle",
	Schema: Schema{Fields: []Field{
		reqInt("unique_id"),
		reqInt("collision_id"),
		crashDate(),
		reqText("crash_time"),
		reqText("vehicle_id"),
		text("state_registration"),
		text("vehicle_type"),
		text("vehicle_make"),
		text("vehicle_model"),
		integer("vehicle_year"),
		text("travel_direction"),
		integer("vehicle_occupants"),
		text("driver_sex"),
		text("driver_license_status"),
		text("driver_license_jurisdiction"),
		text("pre_crash"),
		text("point_of_impact"),
		text("vehicle_damage"),
		text("vehicle_damage_1"),
		text("vehicle_damage_2"),
		text("vehicle_damage_3"),
		text("public_property_damage"),
		text("public_property_damage_type"),
		text("contributing_factor_1"),
		text("contributing_factor_2"),
	}},
}

// Datasets returns every descriptor in sweep order.
func Datasets() []*Descriptor {
	return []*Descriptor{Person, Crash, Vehicle}
}

// Select resolves a dataset selector (person, crash, vehicle or all) into
// the descriptors to refresh, in sweep order.
func Select(selector string, from []*Descriptor) ([]*Descriptor, error) {
	sel := strings.ToLower(strings.TrimSpace(selector))
	if sel == "" || sel == DatasetAll {
		return from, nil
	}
	for _, d := range from {
		if d.Name == sel {
			return []*Descriptor{d}, nil
		}
	}
	return nil, fmt.Errorf("unknown dataset %q (want person, crash, vehicle or all)", selector)
}
