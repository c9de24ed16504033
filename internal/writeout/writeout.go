// Package writeout writes a generated file tree so that a failed run leaves
// the output root untouched.
package writeout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// rename is replaced in tests to inject failures.
var rename = os.Rename

// File is one output file, Path relative to the output root.
type File struct {
	Path string
	Data []byte
}

// Write renders every file into a staging directory inside root, then swaps
// each top-level entry of the staged tree (usually one version directory)
// into place. A replaced directory holds exactly the files of this run. If a
// swap fails, the entries already swapped are restored. The staging
// directory is removed unless a restore failed too.
func Write(root string, files []File) (err error) {
	for _, f := range files {
		if err := checkPath(f.Path); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}
	stage, err := os.MkdirTemp(root, ".openrpc2proto-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	keep := false
	defer func() {
		if keep {
			return
		}
		if rmErr := os.RemoveAll(stage); rmErr != nil && err == nil {
			err = fmt.Errorf("remove staging dir: %w", rmErr)
		}
	}()

	next, prev := filepath.Join(stage, "next"), filepath.Join(stage, "prev")
	for _, dir := range []string{next, prev} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return fmt.Errorf("create staging dir: %w", err)
		}
	}
	var tops []string
	for _, f := range files {
		p := filepath.Join(next, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("stage %s: %w", f.Path, err)
		}
		if err := os.WriteFile(p, f.Data, 0o644); err != nil {
			return fmt.Errorf("stage %s: %w", f.Path, err)
		}
		top, _, _ := strings.Cut(filepath.ToSlash(filepath.Clean(filepath.FromSlash(f.Path))), "/")
		if !slices.Contains(tops, top) {
			tops = append(tops, top)
		}
	}
	slices.Sort(tops)

	s := &swap{root: root, next: next, prev: prev}
	for _, top := range tops {
		if err := s.place(top); err != nil {
			if rbErr := s.rollback(); rbErr != nil {
				keep = true
				return errors.Join(err, rbErr, fmt.Errorf("previous output kept in %s", prev))
			}
			return err
		}
	}
	return nil
}

// swap tracks the entries moved into root so a failed run can undo them.
type swap struct {
	root, next, prev string
	placed           []string
	saved            map[string]bool
}

// place moves the current entry top aside and the staged one in.
func (s *swap) place(top string) error {
	dst := filepath.Join(s.root, top)
	if _, err := os.Lstat(dst); err == nil {
		if err := rename(dst, filepath.Join(s.prev, top)); err != nil {
			return fmt.Errorf("place %s: %w", top, err)
		}
		if s.saved == nil {
			s.saved = map[string]bool{}
		}
		s.saved[top] = true
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("place %s: %w", top, err)
	}
	s.placed = append(s.placed, top)
	if err := rename(filepath.Join(s.next, top), dst); err != nil {
		return fmt.Errorf("place %s: %w", top, err)
	}
	return nil
}

// rollback restores the entries replaced so far, newest first.
func (s *swap) rollback() error {
	var errs []error
	for _, top := range slices.Backward(s.placed) {
		dst := filepath.Join(s.root, top)
		if err := os.RemoveAll(dst); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", top, err))
			continue
		}
		if !s.saved[top] {
			continue
		}
		if err := rename(filepath.Join(s.prev, top), dst); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", top, err))
		}
	}
	return errors.Join(errs...)
}

func checkPath(p string) error {
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	if p == "" || filepath.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return fmt.Errorf("output path %q escapes the output root", p)
	}
	return nil
}
