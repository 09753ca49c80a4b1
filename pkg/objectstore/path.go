package objectstore

import (
	"fmt"
	"path"
	"strings"
)

// CleanPath validates and normalizes a store-relative path.
//
// Rejects empty paths, absolute paths, and any ".." segment up front so
// traversal attempts never reach a backend. Backslashes are rejected too -
// store paths are always slash-separated regardless of host OS.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", newError(CodeInvalidPath, p, fmt.Errorf("empty path"))
	}

	if strings.ContainsRune(p, '\\') {
		return "", newError(CodeInvalidPath, p, fmt.Errorf("backslash not allowed"))
	}

	if strings.HasPrefix(p, "/") {
		return "", newError(CodeInvalidPath, p, fmt.Errorf("absolute path not allowed"))
	}

	cleaned := path.Clean(p)

	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." {
			return "", newError(CodeInvalidPath, p, fmt.Errorf("path traversal segment %q", seg))
		}
	}

	if cleaned == "." {
		return "", newError(CodeInvalidPath, p, fmt.Errorf("empty path after cleaning"))
	}

	return cleaned, nil
}
