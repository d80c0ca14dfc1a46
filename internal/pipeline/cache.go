package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SuppDir returns the supplementary directory for src under cacheDir:
// <cacheDir>/<base>-<hash8>. The hash covers the absolute path, size and
// modification time, so an edited trace gets a fresh directory.
func SuppDir(cacheDir, src string) (string, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", src, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("%s is a directory", src)
	}
	h := sha256.New()
	_, _ = h.Write([]byte(abs))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(st.Size(), 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(st.ModTime().UnixNano(), 10)))
	sum := hex.EncodeToString(h.Sum(nil))
	return filepath.Join(cacheDir, filepath.Base(abs)+"-"+sum[:8]), nil
}
