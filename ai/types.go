package ai

// EntityTypes lists the entity categories extractors may assign.
var EntityTypes = []string{
	"anatomy",
	"disease",
	"drug",
	"gene",
	"lab_test",
	"organism",
	"procedure",
	"symptom",
}

// IsEntityType reports whether t is one of EntityTypes.
func IsEntityType(t string) bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}
