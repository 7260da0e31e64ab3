package keys

import (
	"fmt"
	"strings"
	"unicode"
)

// Validation bounds for registration inputs.
const (
	minMaterialLength = 10
	maxMaterialLength = 500

	maxMetadataEntries    = 100
	maxMetadataDepth      = 4
	maxMetadataListLength = 100
)

// injectionPatterns are token sequences rejected in key material. A
// credential is an opaque token; any of these appearing in one indicates
// either corruption or an attempt to smuggle an attack string through a
// field that reaches logs, stores, and provider requests.
var injectionPatterns = []string{
	"' or '",
	"\" or \"",
	"drop table",
	"union select",
	"$where",
	"$ne",
	"$gt",
	";",
	"|",
	"$(",
	"<script",
	"javascript:",
	"../",
	"..\\",
}

// ValidateMaterial checks plaintext key material: length 10 to 500,
// no control characters, no injection-pattern substrings.
func ValidateMaterial(material string) error {
	if l := len(material); l < minMaterialLength || l > maxMaterialLength {
		return &ValidationError{
			Field:   "material",
			Message: fmt.Sprintf("length must be between %d and %d characters", minMaterialLength, maxMaterialLength),
		}
	}

	for _, r := range material {
		if unicode.IsControl(r) {
			return &ValidationError{
				Field:   "material",
				Message: "must not contain control characters",
			}
		}
	}

	lowered := strings.ToLower(material)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lowered, pattern) {
			return &ValidationError{
				Field:   "material",
				Message: fmt.Sprintf("contains forbidden sequence %q", pattern),
			}
		}
	}

	return nil
}

// ValidateMetadata checks caller-supplied metadata: at most 100 top-level
// entries, nesting at most 4 levels deep, values are primitives or lists
// of primitives no longer than 100.
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}
	if len(metadata) > maxMetadataEntries {
		return &ValidationError{
			Field:   "metadata",
			Message: fmt.Sprintf("must not exceed %d top-level entries", maxMetadataEntries),
		}
	}
	for key, value := range metadata {
		if err := validateMetadataValue(key, value, 1); err != nil {
			return err
		}
	}
	return nil
}

func validateMetadataValue(path string, value any, depth int) error {
	if depth > maxMetadataDepth {
		return &ValidationError{
			Field:   "metadata",
			Message: fmt.Sprintf("%s exceeds maximum nesting depth %d", path, maxMetadataDepth),
		}
	}

	switch v := value.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case map[string]any:
		for key, nested := range v {
			if err := validateMetadataValue(path+"."+key, nested, depth+1); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if len(v) > maxMetadataListLength {
			return &ValidationError{
				Field:   "metadata",
				Message: fmt.Sprintf("%s exceeds maximum list length %d", path, maxMetadataListLength),
			}
		}
		for i, item := range v {
			switch item.(type) {
			case nil, bool, string,
				int, int8, int16, int32, int64,
				uint, uint8, uint16, uint32, uint64,
				float32, float64:
			default:
				return &ValidationError{
					Field:   "metadata",
					Message: fmt.Sprintf("%s[%d] must be a primitive", path, i),
				}
			}
		}
		return nil
	default:
		return &ValidationError{
			Field:   "metadata",
			Message: fmt.Sprintf("%s has unsupported type %T", path, value),
		}
	}
}
