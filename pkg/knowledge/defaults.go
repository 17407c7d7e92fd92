package knowledge

// Placeholder states every entity may report regardless of its domain.
const (
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

var onOff = []string{"on", "off"}

// domainDefaults is the class-default layer: the states each domain can take
// without consulting the entity itself. Domains missing here are free-form
// unless their attributes declare options.
var domainDefaults = map[string][]string{
	"automation":    onOff,
	"binary_sensor": onOff,
	"calendar":      onOff,
	"fan":           onOff,
	"humidifier":    onOff,
	"input_boolean": onOff,
	"light":         onOff,
	"remote":        onOff,
	"schedule":      onOff,
	"script":        onOff,
	"siren":         onOff,
	"switch":        onOff,
	"update":        onOff,

	"device_tracker": {"home", "not_home"},
	"person":         {"home", "not_home"},

	"group": {"on", "off", "home", "not_home", "open", "closed", "locked", "unlocked", "ok", "problem"},

	"lock":  {"locked", "unlocked", "locking", "unlocking", "jammed", "open", "opening"},
	"cover": {"open", "closed", "opening", "closing"},
	"valve": {"open", "closed", "opening", "closing"},

	"alarm_control_panel": {
		"disarmed", "armed_home", "armed_away", "armed_night", "armed_vacation",
		"armed_custom_bypass", "pending", "arming", "disarming", "triggered",
	},
	"media_player": {"off", "on", "idle", "playing", "paused", "standby", "buffering"},
	"vacuum":       {"cleaning", "docked", "idle", "paused", "returning", "error"},
	"lawn_mower":   {"mowing", "docked", "paused", "returning", "error"},
	"climate":      {"off", "heat", "cool", "heat_cool", "auto", "dry", "fan_only"},
	"water_heater": {"off", "eco", "electric", "performance", "high_demand", "heat_pump", "gas"},
	"sun":          {"above_horizon", "below_horizon"},
	"timer":        {"idle", "active", "paused"},
	"weather": {
		"clear-night", "cloudy", "exceptional", "fog", "hail", "lightning",
		"lightning-rainy", "partlycloudy", "pouring", "rainy", "snowy",
		"snowy-rainy", "sunny", "windy", "windy-variant",
	},
}

// schemaAttributes names, per domain, the attribute whose list value
// enumerates the entity's own legal states.
var schemaAttributes = map[string]string{
	"select":       "options",
	"input_select": "options",
	"sensor":       "options", // enum device class
	"climate":      "hvac_modes",
	"water_heater": "operation_list",
}

// presenceDomains report the name of the zone they are in as their state.
var presenceDomains = map[string]bool{
	"person":         true,
	"device_tracker": true,
}
