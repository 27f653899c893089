package servicemanager

import (
	"context"
)

// Service is the lifecycle every long running component of the token cache
// implements. Start blocks until ctx is done or the service fails, and closes
// (or sends on) readyCh once the service accepts work.
type Service interface {
	Init(ctx context.Context) error
	Start(ctx context.Context, readyCh chan<- struct{}) error
	Stop(ctx context.Context) error
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
}
