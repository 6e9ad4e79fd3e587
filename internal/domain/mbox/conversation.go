package mbox

import (
	"log/slog"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// Conversation is a thread of emails rooted at a message without
// In-Reply-To.
type Conversation struct {
	First   model.Email
	replies map[string][]model.Email
}

// Replies returns the direct replies to e, in archive order.
func (c *Conversation) Replies(e model.Email) []model.Email {
	return c.replies[e.ID.Address]
}

// All returns every email of the conversation, depth first.
func (c *Conversation) All() []model.Email {
	var out []model.Email
	var walk func(e model.Email)
	walk = func(e model.Email) {
		out = append(out, e)
		for _, r := range c.Replies(e) {
			walk(r)
		}
	}
	walk(c.First)
	return out
}

// Conversations groups emails into threads. Replies whose parent is missing
// are dropped.
func Conversations(emails []model.Email, logger *slog.Logger) []*Conversation {
	byID := make(map[string]model.Email, len(emails))
	for _, e := range emails {
		if _, ok := byID[e.ID.Address]; !ok {
			byID[e.ID.Address] = e
		}
	}

	var out []*Conversation
	owner := make(map[string]*Conversation)
	for _, e := range emails {
		if e.HasHeader("In-Reply-To") {
			continue
		}
		if _, seen := owner[e.ID.Address]; seen {
			continue
		}
		c := &Conversation{First: e, replies: make(map[string][]model.Email)}
		owner[e.ID.Address] = c
		out = append(out, c)
	}

	for _, e := range emails {
		value, ok := e.Header("In-Reply-To")
		if !ok {
			continue
		}
		parent, err := model.ParseAddress(value)
		if err != nil {
			logger.Info("unparsable In-Reply-To, discarding", "id", e.ID.Address, "error", err)
			continue
		}
		c, ok := owner[parent.Address]
		if !ok {
			logger.Info("parent not found, discarding", "id", e.ID.Address, "parent", parent.Address)
			continue
		}
		c.replies[parent.Address] = append(c.replies[parent.Address], e)
		owner[e.ID.Address] = c
	}
	return out
}
