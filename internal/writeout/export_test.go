package writeout

// SetRename replaces the rename used to move entries and returns a func that
// restores it.
func SetRename(f func(from, to string) error) (restore func()) {
	old := rename
	rename = f
	return func() { rename = old }
}
