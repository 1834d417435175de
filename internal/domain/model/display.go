package model

import "time"

// CodeRow is one line of the code list as shown to the user.
type CodeRow struct {
	ID   CredentialID
	Name string
	Code string
}

// DisplayFrame is a full render of the code list for one time step.
// A frame with no rows is the empty state.
type DisplayFrame struct {
	Step        uint64
	Rows        []CodeRow
	GeneratedAt time.Time
}

// IsEmpty reports whether the frame should show the empty-state message.
func (f DisplayFrame) IsEmpty() bool {
	return len(f.Rows) == 0
}
