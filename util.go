package main

import (
	"os"

	"github.com/mitchellh/go-homedir"
)

// expandPath expands tilde and environment variables in path.
func expandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}
