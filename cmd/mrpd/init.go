package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arceus/mrp/examples"
)

// runInit seeds a directory with an example config and character so a
// new installation has something to edit instead of a blank page.
func runInit(w io.Writer, dir string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(filepath.Join(dir, "data", "characters"), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	wrote, err := writeIfMissing(filepath.Join(dir, "config.yaml"), examples.ConfigYAML)
	if err != nil {
		return err
	}
	report(w, filepath.Join(dir, "config.yaml"), wrote)

	charPath := filepath.Join(dir, "data", "characters", "old_marta.json")
	wrote, err = writeIfMissing(charPath, examples.CharacterJSON)
	if err != nil {
		return err
	}
	report(w, charPath, wrote)

	fmt.Fprintln(w, "Edit config.yaml, set OPENAI_API_KEY, then try: mrpd chat marta")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist. Reruns of init must never clobber edited files.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func report(w io.Writer, path string, wrote bool) {
	if wrote {
		fmt.Fprintf(w, "created %s\n", path)
	} else {
		fmt.Fprintf(w, "kept    %s (already exists)\n", path)
	}
}
