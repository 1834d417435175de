package application

// WritebackFlags records which parts of the device state diverged from the
// persisted snapshot and must be written at teardown.
type WritebackFlags uint8

const (
	// WritebackUTCOffset marks the UTC offset for writeback.
	WritebackUTCOffset WritebackFlags = 1 << iota

	// WritebackCredentials marks the credential list for writeback.
	WritebackCredentials
)

// Has reports whether every bit in f2 is set in f.
func (f WritebackFlags) Has(f2 WritebackFlags) bool {
	return f&f2 == f2
}

// Names returns human readable names for the set flags.
func (f WritebackFlags) Names() []string {
	names := make([]string, 0, 2)
	if f.Has(WritebackUTCOffset) {
		names = append(names, "utc_offset")
	}
	if f.Has(WritebackCredentials) {
		names = append(names, "credentials")
	}
	return names
}

// DeviceState is the single explicit context shared by the refresh engine,
// the sync handler and snapshot persistence. It is owned by the Device loop.
type DeviceState struct {
	Store     *CredentialStore
	UTCOffset int32
	Writeback WritebackFlags

	// Selected is the last highlighted list position. loadedSelected is the
	// value read at startup so writeback can skip an unchanged selection.
	Selected       int
	loadedSelected int
}

// NewDeviceState returns an empty state with a zero offset.
func NewDeviceState() *DeviceState {
	return &DeviceState{Store: NewCredentialStore()}
}

// SelectionChanged reports whether the selection differs from the loaded one.
func (s *DeviceState) SelectionChanged() bool {
	return s.Selected != s.loadedSelected
}
