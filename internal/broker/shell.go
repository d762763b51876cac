package broker

import (
	"errors"
	"os"
)

// DefaultProgram picks the program a session runs when the caller names
// none. Preference order: the broker's configured shell, the $SHELL
// environment variable, then the well-known shells.
func DefaultProgram(preferred string) (string, error) {
	candidates := []string{
		preferred,
		os.Getenv("SHELL"),
		"/bin/bash",
		"/bin/zsh",
		"/bin/sh",
	}
	for _, candidate := range candidates {
		if candidate != "" && canExecute(candidate) {
			return candidate, nil
		}
	}
	return "", errors.New("no usable shell: tried the configured shell, $SHELL, /bin/bash, /bin/zsh, /bin/sh")
}

// canExecute reports whether path is a regular file with an execute bit set.
func canExecute(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode()&0111 != 0
}
