package repository

import "agentfin/internal/service"

// Compile-time checks that both stores implement service.Store. These live in
// a test file so that repository does not import service, which would create
// an import cycle with service's tests.
var (
	_ service.Store = (*Store)(nil)
	_ service.Store = (*MemoryStore)(nil)
)
