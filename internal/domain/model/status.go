package model

// ListingStatus describes the outbound listing sequence.
type ListingStatus struct {
	Cursor   int
	InFlight bool
	Stalled  bool
}

// DeviceStatus is a point-in-time view of the device state for diagnostics.
type DeviceStatus struct {
	Credentials         int
	UTCOffset           int32
	SelectedIndex       int
	LastStep            uint64
	Listing             ListingStatus
	ControllerConnected bool
	PendingWriteback    []string
}
