package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/qarbon/qingest/internal/utils"
	"github.com/qarbon/qingest/pkg/batch"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/storage"
)

const stdinSource = "-"

// readInputs loads each named file, or stdin when none (or "-") is given.
func readInputs(args []string, stdin io.Reader) ([]batch.Item, error) {
	if len(args) == 0 {
		args = []string{stdinSource}
	}
	items := make([]batch.Item, 0, len(args))
	for _, name := range args {
		var (
			b   []byte
			err error
		)
		if name == stdinSource {
			b, err = io.ReadAll(stdin)
		} else {
			b, err = os.ReadFile(name)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		items = append(items, batch.Item{Source: name, Payload: payload.FromBytes(b)})
	}
	return items, nil
}

// openDB resolves path (empty = default location), creates its directory and
// opens the store.
func openDB(path string) (*storage.DB, string, error) {
	absPath, err := utils.GetAbsDBPath(path)
	if err != nil {
		return nil, "", err
	}
	if err := utils.EnsureDBDir(absPath); err != nil {
		return nil, "", fmt.Errorf("creating database directory: %w", err)
	}
	db, err := storage.Open(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening database %s: %w", absPath, err)
	}
	return db, absPath, nil
}
