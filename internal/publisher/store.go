package publisher

import (
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	logx "postbot/pkg/logx"
)

// Completion selects what happens to a pair after delivery.
type Completion string

const (
	CompletionArchive Completion = "archive"
	CompletionDelete  Completion = "delete"
)

// Dirs are the three flat folders holding pairs.
type Dirs struct {
	Incoming string
	Queue    string
	Archive  string
}

// LoadReport summarizes one loadAndPromote pass.
type LoadReport struct {
	Source   string // "queue", "incoming" or "" when nothing was found
	Loaded   int
	Promoted int
	Failed   int
}

// Store owns the on-disk side of the material lifecycle.
// Every operation is best-effort: per-pair failures are logged and skipped.
type Store struct {
	fs   afero.Fs
	dirs Dirs
	log  logx.Logger
}

func NewStore(fs afero.Fs, dirs Dirs, log logx.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{fs: fs, dirs: dirs, log: log.With(logx.String("comp", "publisher.store"))}
}

func (s *Store) Dirs() Dirs { return s.dirs }

// EnsureDirs creates the folders that are configured.
func (s *Store) EnsureDirs() error {
	for _, d := range []string{s.dirs.Incoming, s.dirs.Queue, s.dirs.Archive} {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if err := s.fs.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// scan lists matched pairs in dir. A missing folder yields nothing.
func (s *Store) scan(dir string) []Pair {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("scan failed", logx.String("dir", dir), logx.Err(err))
		}
		return nil
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	return matchPairs(dir, names)
}

// Load scans the queue folder; when it holds no pairs, it promotes pairs from
// the incoming folder instead. The result is shuffled with rng.
func (s *Store) Load(rng *rand.Rand) ([]Pair, LoadReport) {
	var rep LoadReport
	pairs := s.scan(s.dirs.Queue)
	if len(pairs) > 0 {
		rep.Source = "queue"
	} else {
		for _, p := range s.scan(s.dirs.Incoming) {
			moved, err := s.promote(p)
			if err != nil {
				rep.Failed++
				s.log.Warn("promote failed", logx.Kind(KindMoveFailure), logx.String("stem", p.Stem()), logx.Err(err))
				continue
			}
			pairs = append(pairs, moved)
			rep.Promoted++
		}
		if rep.Promoted > 0 || rep.Failed > 0 {
			rep.Source = "incoming"
		}
	}
	if rng != nil {
		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	}
	rep.Loaded = len(pairs)
	return pairs, rep
}

// promote moves both files of p into the queue folder.
// If the caption move fails the image is moved back.
func (s *Store) promote(p Pair) (Pair, error) {
	dst := Pair{
		Image:   filepath.Join(s.dirs.Queue, filepath.Base(p.Image)),
		Caption: filepath.Join(s.dirs.Queue, filepath.Base(p.Caption)),
	}
	if err := s.fs.Rename(p.Image, dst.Image); err != nil {
		return Pair{}, err
	}
	if err := s.fs.Rename(p.Caption, dst.Caption); err != nil {
		if rbErr := s.fs.Rename(dst.Image, p.Image); rbErr != nil {
			s.log.Error("rollback failed", logx.Kind(KindMoveFailure), logx.String("image", dst.Image), logx.Err(rbErr))
		}
		return Pair{}, err
	}
	return dst, nil
}

// Exists reports whether both files of p are present.
func (s *Store) Exists(p Pair) bool {
	return s.exists(p.Image) && s.exists(p.Caption)
}

func (s *Store) exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// Caption reads the caption text with surrounding whitespace trimmed.
func (s *Store) Caption(p Pair) (string, error) {
	b, err := afero.ReadFile(s.fs, p.Caption)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrFileMissing
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// OpenImage opens the image for upload. The caller closes it.
func (s *Store) OpenImage(p Pair) (io.ReadCloser, error) {
	f, err := s.fs.Open(p.Image)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrFileMissing
		}
		return nil, err
	}
	return f, nil
}

// Complete archives or deletes the files of a delivered pair.
// Errors on either file are logged; the other file is still handled.
func (s *Store) Complete(p Pair, policy Completion) {
	for _, path := range []string{p.Image, p.Caption} {
		var err error
		switch {
		case policy == CompletionDelete || strings.TrimSpace(s.dirs.Archive) == "":
			err = s.fs.Remove(path)
		default:
			err = s.fs.Rename(path, filepath.Join(s.dirs.Archive, filepath.Base(path)))
		}
		if err != nil {
			kind := KindMoveFailure
			if errors.Is(err, os.ErrNotExist) {
				kind = KindFileMissing
			}
			s.log.Warn("complete failed", logx.Kind(kind), logx.String("path", path), logx.String("policy", string(policy)), logx.Err(err))
		}
	}
}

// Purge deletes every regular file in the incoming and queue folders
// and returns how many were removed.
func (s *Store) Purge() int {
	removed := 0
	for _, dir := range []string{s.dirs.Incoming, s.dirs.Queue} {
		infos, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("purge scan failed", logx.String("dir", dir), logx.Err(err))
			}
			continue
		}
		for _, fi := range infos {
			if !fi.Mode().IsRegular() {
				continue
			}
			path := filepath.Join(dir, fi.Name())
			if err := s.fs.Remove(path); err != nil {
				s.log.Warn("purge remove failed", logx.String("path", path), logx.Err(err))
				continue
			}
			removed++
		}
	}
	return removed
}

// FolderStats counts files and complete pairs per folder.
type FolderStats struct {
	Files int   `json:"files"`
	Pairs int   `json:"pairs"`
	Bytes int64 `json:"bytes"`
}

func (s *Store) folderStats(dir string) FolderStats {
	var st FolderStats
	if strings.TrimSpace(dir) == "" {
		return st
	}
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return st
	}
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			st.Files++
			st.Bytes += fi.Size()
		}
	}
	st.Pairs = len(s.scan(dir))
	return st
}
