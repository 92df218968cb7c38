//go:build !unix

package filesystem

import (
	"context"

	"datavault-go/internal/assetstore"

	"github.com/juju/errors"
)

func (a *Adapter) CapacityInfo(ctx context.Context) (*assetstore.Capacity, error) {
	return nil, errors.NotSupportedf("capacity info on this platform")
}
