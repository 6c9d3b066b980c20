package pivot

// ForgeRecord builds a record with an arbitrary identity, bypassing
// hydration. Tests use it to model a record whose identity was resolved
// against the wrong table.
func ForgeRecord(label string, id int64, values map[string]any, settable []string) *Record {
	return newRecord(label, id, values, settable)
}
