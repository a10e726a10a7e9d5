// Package mock contains gomock stubs for interfaces declared in this
// repository, used by unit tests.
package mock

//go:generate mockgen -package mock -destination aliases.go github.com/buildbarn/bb-smb/internal/mock/aliases ReadCloser,WriteCloser
//go:generate mockgen -package mock -destination clock.go github.com/buildbarn/bb-smb/pkg/clock Clock,Ticker
//go:generate mockgen -package mock -destination resource.go github.com/buildbarn/bb-smb/pkg/resource Store
