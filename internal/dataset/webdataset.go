package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample represents a paired record from a WebDataset shard.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams paired samples from one shard's tar stream. The
// caller owns r; StreamShard never closes it.
func StreamShard(ctx context.Context, r io.Reader, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		err := walkShard(ctx, r, pendingCap, func(s Sample) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- s:
				return nil
			}
		})
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// walkShard pairs image and label entries by key and calls emit for every
// completed pair, in the order pairs complete.
func walkShard(ctx context.Context, r io.Reader, pendingCap int, emit func(Sample) error) error {
	tr := tar.NewReader(bufio.NewReader(r))
	pending := make(map[string]*partial)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, filepath.Ext(name))

		switch ext {
		case ".jpg", ".jpeg", ".png":
			data, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("read image %s: %w", name, err)
			}
			pendingFor(pending, key).image = data
		case ".cls":
			label, err := readLabel(tr)
			if err != nil {
				return fmt.Errorf("parse label %s: %w", name, err)
			}
			pendingFor(pending, key).label = &label
		default:
			continue
		}

		if len(pending) > pendingCap {
			return ErrPendingOverflow
		}

		if part := pending[key]; part.ready() {
			delete(pending, key)
			if err := emit(Sample{Key: key, Image: part.image, Label: *part.label}); err != nil {
				return err
			}
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("%d samples incomplete", len(pending))
	}
	return nil
}

// countShard scans the labels of a shard without keeping image payloads.
func countShard(r io.Reader, labels map[int]struct{}) (int, error) {
	tr := tar.NewReader(bufio.NewReader(r))
	n := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read tar: %w", err)
		}
		if strings.ToLower(filepath.Ext(hdr.Name)) != ".cls" {
			continue
		}
		label, err := readLabel(tr)
		if err != nil {
			return n, fmt.Errorf("parse label %s: %w", hdr.Name, err)
		}
		labels[label] = struct{}{}
		n++
	}
}

func readLabel(r io.Reader) (int, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(payload)))
}

type partial struct {
	image []byte
	label *int
}

func pendingFor(pending map[string]*partial, key string) *partial {
	part := pending[key]
	if part == nil {
		part = &partial{}
		pending[key] = part
	}
	return part
}

func (p *partial) ready() bool {
	return p != nil && len(p.image) > 0 && p.label != nil
}
