// Package viewmodel merges confirmed history with pending messages into the
// sequence a thread renders.
package viewmodel

import (
	"iter"
	"slices"

	"github.com/matheus3301/convsync/internal/chat"
)

// Merge builds the display sequence for one conversation. Confirmed
// messages are ordered by server timestamp (ties keep fetch order) and
// deduplicated by id. Pending messages follow the last confirmed message in
// the order pending yields them, whatever their local timestamps say.
// Entries for other conversations are skipped.
func Merge(conversationID, localUserID string, confirmed []chat.ConfirmedMessage, pending iter.Seq[chat.PendingMessage]) []chat.DisplayMessage {
	sorted := slices.Clone(confirmed)
	slices.SortStableFunc(sorted, func(a, b chat.ConfirmedMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	out := make([]chat.DisplayMessage, 0, len(sorted))
	seen := make(map[string]struct{}, len(sorted))
	for _, m := range sorted {
		if m.ConversationID != "" && m.ConversationID != conversationID {
			continue
		}
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, chat.DisplayMessage{
			ID:             m.ID,
			ConversationID: conversationID,
			SenderID:       m.SenderID,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
	}

	if pending == nil {
		return out
	}
	for p := range pending {
		if p.ConversationID != conversationID {
			continue
		}
		out = append(out, chat.DisplayMessage{
			ID:             p.ClientID,
			ConversationID: conversationID,
			SenderID:       localUserID,
			Content:        p.Content,
			CreatedAt:      p.QueuedAt,
			Pending:        true,
		})
	}
	return out
}

// PendingCount returns how many entries of msgs are pending.
func PendingCount(msgs []chat.DisplayMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Pending {
			n++
		}
	}
	return n
}
