package cache

import "database/sql"

// Waiters reports how many callers are waiting on the flight for key
func Waiters(l *Loader, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.flights[key]; ok {
		return f.waiters
	}
	return 0
}

// DB exposes the store's handle
func DB(s *SQLiteStore) *sql.DB { return s.db }
