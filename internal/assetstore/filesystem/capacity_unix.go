//go:build unix

package filesystem

import (
	"context"

	"datavault-go/internal/assetstore"

	"golang.org/x/sys/unix"
)

func (a *Adapter) CapacityInfo(ctx context.Context) (*assetstore.Capacity, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(a.root, &st); err != nil {
		return nil, assetstore.Unavailable(err)
	}
	bsize := uint64(st.Bsize)
	return &assetstore.Capacity{
		Free:  uint64(st.Bavail) * bsize,
		Total: uint64(st.Blocks) * bsize,
	}, nil
}
