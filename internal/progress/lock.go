package progress

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// Lock marks a ledger as owned by one running process.
type Lock struct {
	path string
}

// LockPath returns the lock file used for a ledger.
func LockPath(ledgerPath string) string {
	return ledgerPath + ".lock"
}

// AcquireLock creates the lock file exclusively. An existing lock yields
// ProgressError(Locked).
func AcquireLock(ledgerPath string) (*Lock, error) {
	path := LockPath(ledgerPath)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, _ := os.ReadFile(path)
			return nil, &artwork.ProgressError{
				Kind: artwork.KindLocked,
				Path: ledgerPath,
				Err:  fmt.Errorf("lock %s held (%s)", path, string(holder)),
			}
		}
		return nil, fmt.Errorf("create progress lock: %w", err)
	}
	owner := "pid=" + strconv.Itoa(os.Getpid()) + " since=" + time.Now().UTC().Format(time.RFC3339)
	_, writeErr := f.WriteString(owner)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write progress lock: %w", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove progress lock: %w", err)
	}
	return nil
}

// ForceUnlock removes a stale lock left by a killed process.
func ForceUnlock(ledgerPath string) error {
	return (&Lock{path: LockPath(ledgerPath)}).Release()
}
