package database

import "strings"

// quoteDSNValue quotes a value for the PostgreSQL key=value DSN format.
// Within single quotes, backslashes and single quotes are escaped. This
// prevents parsing errors when values contain spaces or special
// characters.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
