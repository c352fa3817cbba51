package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TitleCase turns an identifier such as "world_building" into "World Building".
func TitleCase(value string) string {
	value = strings.Join(strings.FieldsFunc(value, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	}), " ")
	if value == "" {
		return ""
	}
	return cases.Title(language.Und).String(value)
}
