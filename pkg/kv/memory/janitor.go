package memory

import "time"

// reapBatch bounds how many keys one tick removes so a burst of expirations
// cannot monopolize the janitor goroutine
const reapBatch = 1000

// janitor runs background expiration cleanup
func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				n := s.reap(reapBatch)
				if n > 0 {
					s.logger("Reaped expired keys", "count", n)
				}
				if n < reapBatch {
					break
				}
				select {
				case <-s.janitorStop:
					return
				default:
				}
			}
		case <-s.janitorStop:
			return
		}
	}
}

// ReapExpired removes every key whose expiry has passed and returns how many
// were removed. The janitor calls the same routine on each tick.
func (s *Store) ReapExpired() int {
	total := 0
	for {
		n := s.reap(reapBatch)
		total += n
		if n < reapBatch {
			return total
		}
	}
}

// reap pops due items from the expiry queue. Each removal locks a single
// shard for a single key, so live traffic on other keys never waits for a
// whole sweep. Items whose key was rewritten or is already gone are dropped
// after the re-check.
func (s *Store) reap(limit int) int {
	removed := 0
	for removed < limit {
		now := s.clock()
		item, ok := s.reaper.next(now)
		if !ok {
			break
		}
		sh := s.shardFor(item.key)
		sh.mu.Lock()
		if e := sh.entries[item.key]; e != nil && e.expired(now) {
			s.drop(sh, item.key)
			removed++
		}
		sh.mu.Unlock()
	}
	s.stats.reaped.Add(uint64(removed))
	return removed
}
