package model

// MessageKind identifies a record exchanged with the controller.
type MessageKind string

const (
	// KindSetUTCOffset sets the clock offset in seconds. Fields: Offset.
	KindSetUTCOffset MessageKind = "utc_offset.set"

	// KindCreateCredential adds a credential. Fields: ID, Name, Secret.
	KindCreateCredential MessageKind = "credential.create"

	// KindDeleteCredential removes a credential. Fields: ID.
	KindDeleteCredential MessageKind = "credential.delete"

	// KindClearCredentials removes every credential.
	KindClearCredentials MessageKind = "credential.clear"

	// KindUpdateCredential renames a credential. Fields: ID, Name.
	KindUpdateCredential MessageKind = "credential.update"

	// KindSetOrder reorders the credential list. Fields: Order.
	KindSetOrder MessageKind = "credential.order"

	// KindStartListing restarts the outbound listing from the first credential.
	KindStartListing MessageKind = "credential.list"

	// KindListItem is sent by the device, one per credential. Fields: ID, Name.
	KindListItem MessageKind = "credential.list_item"
)

// Message is a single decoded record. Which fields are meaningful depends on
// Kind; transports are responsible for decoding and presence checks.
type Message struct {
	Kind   MessageKind
	Offset int32
	ID     CredentialID
	Name   string
	Secret []byte
	Order  []CredentialID
}

// ListItem builds the outbound record for one credential.
func ListItem(c PublicCredential) Message {
	return Message{Kind: KindListItem, ID: c.ID, Name: c.Name}
}

// SendResult reports the outcome of one outbound message.
type SendResult struct {
	Message Message
	Err     error
}

// BatchResult summarizes how an inbound batch was applied.
type BatchResult struct {
	Applied  int
	Rejected []error
	Changed  bool
}
