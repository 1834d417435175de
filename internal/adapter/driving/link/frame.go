// Package link is the controller transport: a single authenticated websocket
// carrying JSON frames of sync records.
package link

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// ErrMalformedFrame is returned when a frame is not valid JSON or has no
// records array.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the JSON body of one websocket text message.
type Frame struct {
	Records []Record `json:"records"`
}

// Record is the wire form of model.Message. Pointer fields distinguish an
// absent field from a zero value; Secret is base64 per encoding/json.
type Record struct {
	Kind   string               `json:"kind"`
	Offset *int32               `json:"offset,omitempty"`
	ID     *model.CredentialID  `json:"id,omitempty"`
	Name   *string              `json:"name,omitempty"`
	Secret []byte               `json:"secret,omitempty"`
	Order  []model.CredentialID `json:"order,omitempty"`
}

// DecodeFrame parses data into messages. A frame that is not valid JSON is
// rejected as a whole; a record missing a field its kind requires is skipped
// and reported in the returned error slice, in record order.
func DecodeFrame(data []byte) ([]model.Message, []error, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if f.Records == nil {
		return nil, nil, fmt.Errorf("%w: no records", ErrMalformedFrame)
	}

	msgs := make([]model.Message, 0, len(f.Records))
	var errs []error
	for i, rec := range f.Records {
		msg, err := rec.toMessage()
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs, nil
}

func (r Record) toMessage() (model.Message, error) {
	msg := model.Message{Kind: model.MessageKind(r.Kind)}

	missing := func(field string) error {
		return fmt.Errorf("%s requires %s: %w", r.Kind, field, model.ErrMissingField)
	}

	switch msg.Kind {
	case model.KindSetUTCOffset:
		if r.Offset == nil {
			return msg, missing("offset")
		}
		msg.Offset = *r.Offset

	case model.KindCreateCredential:
		if r.ID == nil {
			return msg, missing("id")
		}
		if r.Secret == nil {
			return msg, missing("secret")
		}
		msg.ID = *r.ID
		msg.Secret = r.Secret
		if r.Name != nil {
			msg.Name = *r.Name
		}

	case model.KindUpdateCredential:
		if r.ID == nil {
			return msg, missing("id")
		}
		if r.Name == nil {
			return msg, missing("name")
		}
		msg.ID = *r.ID
		msg.Name = *r.Name

	case model.KindDeleteCredential:
		if r.ID == nil {
			return msg, missing("id")
		}
		msg.ID = *r.ID

	case model.KindSetOrder:
		// An absent order is the empty sequence, which is valid for an empty store.
		msg.Order = r.Order

	case model.KindListItem:
		if r.ID == nil {
			return msg, missing("id")
		}
		msg.ID = *r.ID
		if r.Name != nil {
			msg.Name = *r.Name
		}
	}

	return msg, nil
}

// EncodeFrame serializes msgs into one frame. Secrets are encoded only for
// credential.create records.
func EncodeFrame(msgs ...model.Message) ([]byte, error) {
	f := Frame{Records: make([]Record, 0, len(msgs))}
	for _, m := range msgs {
		f.Records = append(f.Records, toRecord(m))
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func toRecord(m model.Message) Record {
	rec := Record{Kind: string(m.Kind)}

	switch m.Kind {
	case model.KindSetUTCOffset:
		rec.Offset = &m.Offset
	case model.KindCreateCredential:
		rec.ID = &m.ID
		rec.Name = &m.Name
		rec.Secret = m.Secret
	case model.KindUpdateCredential, model.KindListItem:
		rec.ID = &m.ID
		rec.Name = &m.Name
	case model.KindDeleteCredential:
		rec.ID = &m.ID
	case model.KindSetOrder:
		rec.Order = m.Order
	}
	return rec
}
