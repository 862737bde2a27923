// SPDX-License-Identifier: AGPL-3.0-or-later
package jobs

import "context"

// Serve implements suture.Service so a System can be added directly to a
// supervisor tree (cmd/coreindexd's root tree, per the teacher's
// internal/supervisor pattern). The System does its actual work from
// per-job goroutines spawned by Dispatch/Resume/Init; Serve just blocks
// until the tree asks it to stop, then runs the same graceful drain as an
// explicit Shutdown call.
func (s *System) Serve(ctx context.Context) error {
	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// String names the service for suture's event hook / logging.
func (s *System) String() string { return "job-system" }
