// Package controller implements the provisioning side of the device link:
// planning the messages that bring a device in line with a desired
// credential list, sending them one at a time, and reading the device's
// public listing back.
package controller

import (
	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// Entry is one credential the controller wants on the device.
type Entry struct {
	ID     model.CredentialID
	Name   string
	Secret []byte
}

// Plan returns the messages that turn existing into desired: deletes for ids
// that are gone, creates for new ids, renames for changed names, then one
// order message listing desired ids in their desired order. An empty desired
// list becomes a single clear.
//
// Secrets of ids already on the device are never re-sent; a changed secret
// needs a delete and a create under a new id.
func Plan(existing []model.PublicCredential, desired []Entry) []model.Message {
	if len(desired) == 0 {
		if len(existing) == 0 {
			return nil
		}
		return []model.Message{{Kind: model.KindClearCredentials}}
	}

	current := make(map[model.CredentialID]string, len(existing))
	for _, c := range existing {
		current[c.ID] = c.Name
	}
	wanted := make(map[model.CredentialID]struct{}, len(desired))
	for _, e := range desired {
		wanted[e.ID] = struct{}{}
	}

	var deletes, creates, updates []model.Message
	for _, c := range existing {
		if _, ok := wanted[c.ID]; !ok {
			deletes = append(deletes, model.Message{Kind: model.KindDeleteCredential, ID: c.ID})
		}
	}

	order := make([]model.CredentialID, 0, len(desired))
	for _, e := range desired {
		order = append(order, e.ID)

		name, ok := current[e.ID]
		switch {
		case !ok:
			creates = append(creates, model.Message{
				Kind:   model.KindCreateCredential,
				ID:     e.ID,
				Name:   e.Name,
				Secret: e.Secret,
			})
		case name != model.TruncateName(e.Name):
			updates = append(updates, model.Message{Kind: model.KindUpdateCredential, ID: e.ID, Name: e.Name})
		}
	}

	msgs := make([]model.Message, 0, len(deletes)+len(creates)+len(updates)+1)
	msgs = append(msgs, deletes...)
	msgs = append(msgs, creates...)
	msgs = append(msgs, updates...)
	msgs = append(msgs, model.Message{Kind: model.KindSetOrder, Order: order})
	return msgs
}
