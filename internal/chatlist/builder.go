// Package chatlist derives the display-ready conversation list.
package chatlist

import (
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/matheus3301/convsync/internal/chat"
)

// DefaultRole labels a counterpart with no directory entry.
const DefaultRole = "Landlord"

// UnknownName labels a conversation with no resolvable counterpart.
const UnknownName = "Unknown"

var roleLabels = map[chat.ContactKind]string{
	chat.KindTenant:          "Tenant",
	chat.KindServiceProvider: "Service Provider",
	chat.KindPropertyManager: "Property Manager",
	chat.KindOther:           "Contact",
}

// RoleLabel maps a contact classification to its display label.
func RoleLabel(kind chat.ContactKind) string {
	if label, ok := roleLabels[kind]; ok {
		return label
	}
	return roleLabels[chat.KindOther]
}

// Options carries the context a build depends on.
type Options struct {
	LocalUserID string
	// MaintenanceIDs are conversation ids owned by the maintenance-request
	// surface. Matching conversations are left out of the chat list.
	MaintenanceIDs map[string]struct{}
	// ActiveID is the selected conversation. Its unread count always
	// renders as zero.
	ActiveID string
	Now      time.Time
	Location *time.Location
	Layouts  Layouts
}

// Build projects records into summaries. Records whose id is a maintenance
// request are excluded. The result is sorted stably: pinned before
// unpinned, then unread before read; ties keep the input order.
func Build(records []chat.ConversationRecord, contacts []chat.ContactEntry, connected bool, opts Options) []chat.ChatSummary {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	dir := indexContacts(contacts)

	out := make([]chat.ChatSummary, 0, len(records))
	for _, r := range records {
		if _, maint := opts.MaintenanceIDs[r.ID]; maint {
			continue
		}
		out = append(out, summarize(r, dir, connected, opts))
	}

	slices.SortStableFunc(out, func(a, b chat.ChatSummary) int {
		if a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		au, bu := a.UnreadCount > 0, b.UnreadCount > 0
		switch {
		case au && !bu:
			return -1
		case !au && bu:
			return 1
		}
		return 0
	})
	return out
}

// Split partitions records by maintenance-id membership. Every record lands
// in exactly one of the two slices.
func Split(records []chat.ConversationRecord, maintenanceIDs map[string]struct{}) (chats, maintenance []chat.ConversationRecord) {
	for _, r := range records {
		if _, ok := maintenanceIDs[r.ID]; ok {
			maintenance = append(maintenance, r)
		} else {
			chats = append(chats, r)
		}
	}
	return chats, maintenance
}

type directory struct {
	byUser  map[string]chat.ContactEntry
	byEmail map[string]chat.ContactEntry
}

func indexContacts(contacts []chat.ContactEntry) directory {
	d := directory{
		byUser:  make(map[string]chat.ContactEntry, len(contacts)),
		byEmail: make(map[string]chat.ContactEntry, len(contacts)),
	}
	for _, c := range contacts {
		if c.UserID != "" {
			if _, dup := d.byUser[c.UserID]; !dup {
				d.byUser[c.UserID] = c
			}
		}
		if c.Email != "" {
			key := strings.ToLower(c.Email)
			if _, dup := d.byEmail[key]; !dup {
				d.byEmail[key] = c
			}
		}
	}
	return d
}

func (d directory) lookup(p chat.Participant) (chat.ContactEntry, bool) {
	if c, ok := d.byUser[p.UserID]; ok && p.UserID != "" {
		return c, true
	}
	if p.Email != "" {
		c, ok := d.byEmail[strings.ToLower(p.Email)]
		return c, ok
	}
	return chat.ContactEntry{}, false
}

func summarize(r chat.ConversationRecord, dir directory, connected bool, opts Options) chat.ChatSummary {
	s := chat.ChatSummary{
		ID:          r.ID,
		Role:        DefaultRole,
		UnreadCount: max(r.UnreadCount, 0),
	}

	cp, ok := r.Counterpart(opts.LocalUserID)
	contact, inDir := dir.lookup(cp)
	if ok {
		s.CounterpartID = cp.UserID
	}
	if inDir {
		s.Role = RoleLabel(contact.Kind)
		s.Avatar = contact.AvatarURL
	}
	s.Name = firstNonEmpty(cp.DisplayName, contact.DisplayName, cp.Email, cp.UserID, UnknownName)
	if s.Avatar == "" {
		s.Avatar = Initials(s.Name)
	}

	if r.LastMessage != nil {
		s.LastMessage = r.LastMessage.Content
		s.LastMessageTime = FormatTime(r.LastMessage.Timestamp, opts.Now, opts.Location, opts.Layouts)
	}
	if r.ID == opts.ActiveID {
		s.UnreadCount = 0
		s.Online = connected
	}
	return s
}

// Initials returns up to two uppercase initials of name.
func Initials(name string) string {
	var b strings.Builder
	n := 0
	for _, word := range strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '@' || r == '.' || r == '_' || r == '-'
	}) {
		r, _ := utf8.DecodeRuneInString(word)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if n++; n == 2 {
			break
		}
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
