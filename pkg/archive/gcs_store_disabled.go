//go:build !gcp

package archive

import (
	"context"
	"errors"
)

func newGCSStore(context.Context, string, string) (Store, error) {
	return nil, errors.New("archive: GCS storage is not enabled in this build (use -tags gcp)")
}
