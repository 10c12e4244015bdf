package system

import "context"

// Service is one lifecycle-managed component of the gateway process, such as
// the HTTP server or the cache janitor. The manager starts services in
// registration order and stops them in reverse.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
