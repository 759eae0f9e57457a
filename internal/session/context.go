package session

import "time"

// Context identifies one assessment run. It is passed to every
// coordinator so results are attributed to the run that produced them.
type Context struct {
	RunID     string
	UserID    string
	CreatedAt time.Time
}

// Owner is the key used for exclusive device access.
func (c Context) Owner() string {
	return c.RunID
}
