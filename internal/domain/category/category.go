// Package category defines the closed set of device categories the
// classification service may suggest. The mapping from wire labels is
// exhaustive on purpose: an unknown label is an error, never a silent
// drop, so contract drift in the external service surfaces immediately.
package category

import "fmt"

// Category is a device category.
type Category string

const (
	Fridge          Category = "fridge"
	Freezer         Category = "freezer"
	WashingMachine  Category = "washing_machine"
	Dishwasher      Category = "dishwasher"
	TumbleDryer     Category = "tumble_dryer"
	Oven            Category = "oven"
	Stove           Category = "stove"
	Microwave       Category = "microwave"
	Kettle          Category = "kettle"
	WaterHeater     Category = "water_heater"
	SpaceHeater     Category = "space_heater"
	AirConditioning Category = "air_conditioning"
	HeatPump        Category = "heat_pump"
	EVCharger       Category = "ev_charger"
	Lighting        Category = "lighting"
	Entertainment   Category = "entertainment"
	Other           Category = "other"
)

// labels maps classification wire labels to categories. Keys mirror the
// external service's vocabulary and must stay in sync with it.
var labels = map[string]Category{
	"fridge":           Fridge,
	"refrigerator":     Fridge,
	"freezer":          Freezer,
	"washing_machine":  WashingMachine,
	"washer":           WashingMachine,
	"dishwasher":       Dishwasher,
	"tumble_dryer":     TumbleDryer,
	"dryer":            TumbleDryer,
	"oven":             Oven,
	"stove":            Stove,
	"microwave":        Microwave,
	"kettle":           Kettle,
	"water_heater":     WaterHeater,
	"boiler":           WaterHeater,
	"space_heater":     SpaceHeater,
	"air_conditioning": AirConditioning,
	"ac":               AirConditioning,
	"heat_pump":        HeatPump,
	"ev_charger":       EVCharger,
	"ev":               EVCharger,
	"lighting":         Lighting,
	"entertainment":    Entertainment,
	"tv":               Entertainment,
	"other":            Other,
}

// FromLabel resolves a classification wire label to a Category.
// Unknown labels fail loudly.
func FromLabel(label string) (Category, error) {
	c, ok := labels[label]
	if !ok {
		return "", fmt.Errorf("unknown device category label: %q", label)
	}
	return c, nil
}

// String returns the canonical label.
func (c Category) String() string { return string(c) }

// Valid reports whether c is one of the closed set.
func (c Category) Valid() bool {
	switch c {
	case Fridge, Freezer, WashingMachine, Dishwasher, TumbleDryer,
		Oven, Stove, Microwave, Kettle, WaterHeater, SpaceHeater,
		AirConditioning, HeatPump, EVCharger, Lighting, Entertainment, Other:
		return true
	default:
		return false
	}
}
