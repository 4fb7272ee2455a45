package supervisor

// Discover signals every running instance of the target executable that is
// not attached, and returns how many were signalled.
func (s *Supervisor) Discover() int {
	n := 0
	s.scanner.Discover(s.target, func(pid int) {
		if pid == s.self || s.reg.Contains(pid) {
			return
		}
		n++
		cmd := s.scanner.CommandLine(pid)
		if err := s.kill(pid, s.signal); err != nil {
			s.logger.Warn().Err(err).Int("pid", pid).Str("cmd", cmd).Msg("can't signal unattached instance")
			return
		}
		s.logger.Info().Int("pid", pid).Str("cmd", cmd).Str("signal", s.signal.String()).Msg("signalled unattached instance")
	})
	return n
}
