package signature

// builtinFilters covers the template engine's own filters plus the
// automation platform's extensions.
func builtinFilters() []Signature {
	return []Signature{
		// engine built-ins
		sig("abs"),
		sig("attr", "name"),
		sig("batch", "linecount", "fill_with?"),
		sig("capitalize"),
		sig("center", "width?"),
		sig("default", "default_value?", "boolean?"),
		sig("d", "default_value?", "boolean?"),
		sig("dictsort", "case_sensitive?", "by?", "reverse?"),
		sig("escape"),
		sig("e"),
		sig("filesizeformat", "binary?"),
		sig("first"),
		sig("forceescape"),
		sig("format", "*"),
		sig("groupby", "attribute", "default?", "case_sensitive?"),
		sig("indent", "width?", "first?", "blank?"),
		sig("items"),
		sig("join", "d?", "attribute?"),
		sig("last"),
		sig("length"),
		sig("count"),
		sig("list"),
		sig("lower"),
		sig("map", "*"),
		sig("pprint"),
		sig("random"),
		sig("reject", "*"),
		sig("rejectattr", "*"),
		sig("replace", "old", "new", "count?"),
		sig("reverse"),
		sig("safe"),
		sig("select", "*"),
		sig("selectattr", "*"),
		sig("slice", "slices", "fill_with?"),
		sig("sort", "reverse?", "case_sensitive?", "attribute?"),
		sig("string"),
		sig("striptags"),
		sig("sum", "attribute?", "start?"),
		sig("title"),
		sig("tojson", "indent?"),
		sig("trim", "chars?"),
		sig("truncate", "length?", "killwords?", "end?", "leeway?"),
		sig("unique", "case_sensitive?", "attribute?"),
		sig("upper"),
		sig("urlencode"),
		sig("urlize", "trim_url_limit?", "nofollow?", "target?", "rel?"),
		sig("wordcount"),
		sig("wordwrap", "width?", "break_long_words?", "wrapstring?", "break_on_hyphens?"),
		sig("xmlattr", "autospace?"),

		// numeric
		sig("float", "default?"),
		sig("int", "default?", "base?"),
		sig("bool", "default?"),
		sig("round", "precision?", "method?", "default?"),
		sig("multiply", "amount", "default?"),
		sig("add", "amount", "default?"),
		sig("log", "base?", "default?"),
		sig("sin", "default?"),
		sig("cos", "default?"),
		sig("tan", "default?"),
		sig("asin", "default?"),
		sig("acos", "default?"),
		sig("atan", "default?"),
		sig("atan2", "x", "default?"),
		sig("sqrt", "default?"),
		sig("max", "*"),
		sig("min", "*"),
		sig("average", "*"),
		sig("median", "*"),
		sig("statistical_mode", "*"),
		sig("bitwise_and", "other"),
		sig("bitwise_or", "other"),
		sig("bitwise_xor", "other"),
		sig("is_number"),

		// time
		sig("as_datetime", "default?"),
		sig("as_local"),
		sig("as_timestamp", "default?"),
		sig("as_timedelta"),
		sig("timestamp_custom", "format?", "local?", "default?"),
		sig("timestamp_local", "default?"),
		sig("timestamp_utc", "default?"),
		sig("relative_time"),
		sig("time_since", "precision?"),
		sig("time_until", "precision?"),

		// strings and structures
		sig("to_json", "ensure_ascii?", "pretty_print?", "sort_keys?"),
		sig("from_json", "default?"),
		sig("regex_match", "find", "ignorecase?"),
		sig("regex_search", "find", "ignorecase?"),
		sig("regex_replace", "find?", "replace?", "ignorecase?"),
		sig("regex_findall", "find?", "ignorecase?"),
		sig("regex_findall_index", "find?", "index?", "ignorecase?"),
		sig("slugify", "separator?"),
		sig("base64_encode"),
		sig("base64_decode", "encoding?"),
		sig("ord"),
		sig("md5"),
		sig("sha1"),
		sig("sha256"),
		sig("sha512"),
		sig("urlencode"),
		sig("iif", "if_true?", "if_false?", "if_none?"),
		sig("is_defined"),
		sig("version"),
		sig("pack", "format_string"),
		sig("unpack", "format_string", "offset?"),
		sig("contains", "value"),
		sig("shuffle", "seed?"),
		sig("flatten", "levels?"),
		sig("intersect", "other"),
		sig("difference", "other"),
		sig("union", "other"),
		sig("symmetric_difference", "other"),
		sig("combine", "*"),
		sig("typeof"),
		sig("apply", "callable", "*"),

		// state and registry helpers usable as filters
		sig("states", "rounded?", "with_unit?"),
		sig("is_state", "state"),
		sig("state_attr", "name"),
		sig("is_state_attr", "name", "value"),
		sig("has_value"),
		sig("expand"),
		sig("closest", "*"),
		sig("distance", "*"),
		sig("device_id"),
		sig("device_name"),
		sig("device_attr", "attr_name"),
		sig("is_device_attr", "attr_name", "attr_value"),
		sig("device_entities"),
		sig("area_id"),
		sig("area_name"),
		sig("area_entities"),
		sig("area_devices"),
		sig("floor_id"),
		sig("floor_name"),
		sig("floor_areas"),
		sig("floor_entities"),
		sig("label_id"),
		sig("label_name"),
		sig("label_areas"),
		sig("label_devices"),
		sig("label_entities"),
		sig("integration_entities"),
	}
}

func builtinTests() []Signature {
	return []Signature{
		sig("boolean"),
		sig("callable"),
		sig("defined"),
		sig("divisibleby", "num"),
		sig("eq", "other"),
		sig("equalto", "other"),
		sig("=="),
		sig("escaped"),
		sig("even"),
		sig("false"),
		sig("filter"),
		sig("float"),
		sig("ge", "other"),
		sig(">=", "other"),
		sig("gt", "other"),
		sig("greaterthan", "other"),
		sig(">", "other"),
		sig("in", "seq"),
		sig("integer"),
		sig("iterable"),
		sig("le", "other"),
		sig("<=", "other"),
		sig("lower"),
		sig("lt", "other"),
		sig("lessthan", "other"),
		sig("<", "other"),
		sig("mapping"),
		sig("ne", "other"),
		sig("!=", "other"),
		sig("none"),
		sig("number"),
		sig("odd"),
		sig("sameas", "other"),
		sig("sequence"),
		sig("string"),
		sig("test"),
		sig("true"),
		sig("undefined"),
		sig("upper"),

		// platform tests
		sig("match", "find", "ignorecase?"),
		sig("search", "find", "ignorecase?"),
		sig("is_number"),
		sig("has_value"),
		sig("contains", "value"),
		sig("datetime"),
		sig("list"),
		sig("set"),
		sig("tuple"),
		sig("string_like"),
		sig("is_state", "state"),
		sig("is_state_attr", "name", "value"),
		sig("is_device_attr", "attr_name", "attr_value"),
		sig("is_hidden_entity"),
		sig("is_defined"),
	}
}

// entityFunctions maps callables to the argument index holding an entity id.
var entityFunctions = map[string]int{
	"states":           0,
	"is_state":         0,
	"state_attr":       0,
	"is_state_attr":    0,
	"has_value":        0,
	"device_id":        0,
	"is_hidden_entity": 0,
}

// globalNames are identifiers always defined in a template, whether as
// engine built-ins or platform helpers.
var globalNames = []string{
	// engine
	"range", "lipsum", "dict", "cycler", "joiner", "namespace", "loop",
	"true", "false", "none", "True", "False", "None", "self", "varargs",
	"kwargs", "caller",

	// state access
	"states", "is_state", "state_attr", "is_state_attr", "has_value",
	"expand", "closest", "distance", "is_hidden_entity",

	// registries
	"device_id", "device_name", "device_attr", "is_device_attr", "device_entities",
	"area_id", "area_name", "area_entities", "area_devices", "areas",
	"floors", "floor_id", "floor_name", "floor_areas", "floor_entities",
	"labels", "label_id", "label_name", "label_areas", "label_devices", "label_entities",
	"integration_entities",

	// time
	"now", "utcnow", "today_at", "as_datetime", "as_local", "as_timestamp",
	"as_timedelta", "relative_time", "time_since", "time_until", "timedelta",
	"strptime",

	// numeric and misc
	"float", "int", "bool", "min", "max", "average", "median",
	"statistical_mode", "log", "sin", "cos", "tan", "asin", "acos", "atan",
	"atan2", "sqrt", "pi", "e", "tau", "inf", "iif", "is_number", "zip",
	"set", "list", "tuple", "version", "pack", "unpack", "slugify",
	"urlencode", "merge_response", "typeof", "bitwise_and", "bitwise_or",
	"bitwise_xor", "base64_encode", "base64_decode", "ord", "md5", "sha1",
	"sha256", "sha512", "shuffle", "flatten", "intersect", "difference",
	"union", "symmetric_difference", "combine", "state_translated",
}

// ContextNames are variables a running automation injects.
var ContextNames = []string{"trigger", "this", "repeat", "wait"}
