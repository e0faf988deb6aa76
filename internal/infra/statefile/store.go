// Package statefile persists the orchestrator state as a JSON document on
// local disk.
package statefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/ports"

	"github.com/rs/zerolog/log"
)

var (
	_ ports.StateStore  = (*Store)(nil)
	_ ports.StateReader = (*Store)(nil)
)

type Store struct {
	Path string
	// QuarantineDir receives corrupt state files. Defaults to
	// <dir of Path>/quarantine.
	QuarantineDir string
}

func New(path string) *Store {
	return &Store{Path: path}
}

// Load returns a fresh state when the file is missing. A corrupt file is
// moved to the quarantine directory and a fresh state is returned.
func (s *Store) Load(ctx context.Context) (*domain.State, error) {
	st, err := s.Read(ctx)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, domain.ErrCorruptState) {
		return nil, err
	}

	log.Ctx(ctx).Error().Err(err).Str("path", s.Path).Msg("state file is corrupt, starting fresh")
	if qerr := s.quarantine(); qerr != nil {
		log.Ctx(ctx).Error().Err(qerr).Str("path", s.Path).Msg("could not quarantine corrupt state file")
	}
	return domain.NewState(), nil
}

// Read decodes the file without touching it. A missing file reads as a fresh
// state; a corrupt one is reported with domain.ErrCorruptState.
func (s *Store) Read(ctx context.Context) (*domain.State, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Ctx(ctx).Info().Str("path", s.Path).Msg("no state file, starting fresh")
		return domain.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	st, err := domain.DecodeState(raw)
	if err != nil {
		return nil, fmt.Errorf("state file %s: %w", s.Path, err)
	}
	return st, nil
}

// Save writes the state atomically: temp file, fsync, keep the previous
// version as .bak, rename over the target.
func (s *Store) Save(_ context.Context, st *domain.State) error {
	content, err := domain.EncodeState(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return atomicWrite(s.Path, content)
}

func (s *Store) quarantineDir() string {
	if s.QuarantineDir != "" {
		return s.QuarantineDir
	}
	return filepath.Join(filepath.Dir(s.Path), "quarantine")
}

func (s *Store) quarantine() error {
	dir := s.quarantineDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(s.Path), time.Now().Format("20060102T150405.000000000"))
	target := filepath.Join(dir, name)
	if err := os.Rename(s.Path, target); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}
	log.Warn().Str("from", s.Path).Str("to", target).Msg("quarantined corrupt state file")
	return nil
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
