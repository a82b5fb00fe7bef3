package framesink

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/framestore"
	"github.com/breeze-rmm/deskcap/internal/imageout"
)

// FileHandler writes each frame into dir. See StoreHandler for naming.
func FileHandler(dir string, format imageout.Format) Handler {
	return StoreHandler(framestore.NewLocalStore(dir), format)
}

// StoreHandler encodes each frame and puts it into store as
// frame-<capture time>-<sequence><ext>.
func StoreHandler(store framestore.Store, format imageout.Format) Handler {
	var seq atomic.Uint64
	return func(ctx context.Context, frame *capture.PixelBuffer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := imageout.Encode(&buf, frame, format); err != nil {
			return fmt.Errorf("encode %s: %w", format, err)
		}
		key := fmt.Sprintf("frame-%s-%06d%s",
			frame.CapturedAt.UTC().Format("20060102T150405.000Z"), seq.Add(1), format.Ext())
		return store.Put(ctx, key, &buf, format.ContentType())
	}
}
