package coordinator

// Callers hold c.mu. Delivery is best effort: a failing peer is logged and
// skipped so the rest still receive the frame.

func (c *Coordinator) send(s *Session, frame []byte) {
	if err := s.peer.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("session", s.id).Msg("Send failed")
	}
}

func (c *Coordinator) sendToAllWorkers(frame []byte) {
	for _, w := range c.workers {
		c.send(w, frame)
	}
}

// sendTo skips ids that are no longer registered.
func (c *Coordinator) sendTo(ids map[string]struct{}, frame []byte) {
	for id := range ids {
		if s, ok := c.services[id]; ok {
			c.send(s, frame)
		}
	}
}
