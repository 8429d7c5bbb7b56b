// Package archive exports accepted blocks to external sinks for inspection after a run.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

type Output interface {
	// WriteBlock archives b. Writing the same block twice is not an error.
	WriteBlock(ctx context.Context, b *zerocash.Block) error

	// GetLatestBlock returns the highest archived block, or nil if nothing was archived yet.
	GetLatestBlock(ctx context.Context) (*zerocash.Block, error)

	// Close closes the output.
	Close() error
}

// FileOutput appends one JSON-encoded block per line to a file.
type FileOutput struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	seen   map[zerocash.Digest]struct{}
	latest *zerocash.Block
}

// NewFileOutput creates (or truncates) the file at path.
func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create archive file")
	}
	return &FileOutput{f: f, w: bufio.NewWriter(f), seen: make(map[zerocash.Digest]struct{})}, nil
}

func (o *FileOutput) WriteBlock(_ context.Context, b *zerocash.Block) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := b.ID()
	if _, ok := o.seen[id]; ok {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return errors.Wrapf(err, "encode block %s", id.Short())
	}
	if _, err := o.w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "write block")
	}
	o.seen[id] = struct{}{}
	if o.latest == nil || b.ChainLength() > o.latest.ChainLength() {
		o.latest = b
	}
	return nil
}

func (o *FileOutput) GetLatestBlock(context.Context) (*zerocash.Block, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest, nil
}

func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Flush(); err != nil {
		o.f.Close()
		return errors.Wrap(err, "flush archive file")
	}
	return o.f.Close()
}

// ReadFile decodes every block of a file written by FileOutput.
func ReadFile(path string) ([]*zerocash.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open archive file")
	}
	defer f.Close()
	var blocks []*zerocash.Block
	dec := json.NewDecoder(f)
	for dec.More() {
		b := new(zerocash.Block)
		if err := dec.Decode(b); err != nil {
			return nil, errors.WithMessagef(err, "block %d", len(blocks))
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
