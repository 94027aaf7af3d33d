package retention

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/LeventeLantos/daily-messaging/internal/model"
)

// FileArchiver writes each batch of expiring logs as zstd-compressed JSON
// lines into dir. A file is only visible under its final name once complete.
type FileArchiver struct {
	dir string
	now func() time.Time
}

func NewFileArchiver(dir string) (*FileArchiver, error) {
	if dir == "" {
		return nil, errors.New("archive dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &FileArchiver{dir: dir, now: time.Now}, nil
}

func (a *FileArchiver) Archive(ctx context.Context, runID string, logs []model.MessageLog) (err error) {
	name := fmt.Sprintf("message_logs-%s-%s.jsonl.zst", a.now().UTC().Format("20060102T150405Z"), runID)
	final := filepath.Join(a.dir, name)

	f, err := os.CreateTemp(a.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(zw)
	enc := json.NewEncoder(bw)
	for _, l := range logs {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		if err := enc.Encode(l); err != nil {
			zw.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), final)
}

// ReadArchive decodes an archive written by FileArchiver.
func ReadArchive(path string) ([]model.MessageLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []model.MessageLog
	dec := json.NewDecoder(zr)
	for dec.More() {
		var l model.MessageLog
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		out = append(out, l)
	}
	return out, nil
}
