package chat

import (
	"context"

	"github.com/rs/zerolog/log"
)

// SeedDemo creates the demo users ann and bob (password "demo") and the
// public room lobby when they are missing.
func (s *Service) SeedDemo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, name := range []string{"ann", "bob"} {
		if _, ok := s.users.Get(name); ok {
			continue
		}
		cred, err := s.creds.Hash("demo")
		if err != nil {
			return err
		}
		if _, err := s.users.Add(name, cred); err != nil {
			return err
		}
		changed = true
	}
	if !s.rooms.Has("lobby") {
		s.rooms.Create("lobby", "")
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	log.Info().Msg("[chat] dev seed applied")
	return nil
}
