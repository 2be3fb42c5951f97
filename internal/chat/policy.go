package chat

import "time"

// EditWindow is how long after creation a message may still be edited.
const EditWindow = 5 * time.Minute

// CanEdit reports whether m may be edited at now.
func CanEdit(m Message, now time.Time) bool {
	return !m.IsDeleted && now.Sub(m.CreatedAt) <= EditWindow
}
