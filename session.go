package railbook

import "github.com/yuhao-qian/railbook/internal/lhmap"

// sessionTable is the process-local login table: user ID to privilege.
// It is owned by the session layer alone and is deliberately not
// persisted; a restart logs everyone out.
type sessionTable struct {
	entries *lhmap.Map[ID, int]
}

func newSessionTable() *sessionTable {
	return &sessionTable{entries: lhmap.New[ID, int](idSum)}
}

func (s *sessionTable) login(user ID, privilege int) {
	s.entries.Insert(user, privilege)
}

// logout removes the session; it reports false when the user was not
// logged in.
func (s *sessionTable) logout(user ID) bool {
	e := s.entries.Find(user)

	if e == nil {
		return false
	}

	s.entries.Erase(e)
	return true
}

// privilege returns the logged-in user's privilege.
func (s *sessionTable) privilege(user ID) (int, bool) {
	if e := s.entries.Find(user); e != nil {
		return e.Value, true
	}

	return 0, false
}

func (s *sessionTable) clear() {
	s.entries.Clear()
}
