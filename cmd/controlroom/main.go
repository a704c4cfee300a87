package main

import (
	"errors"
	"os"

	"github.com/charmbracelet/log"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		log.New(os.Stderr).Error(err)
		os.Exit(1)
	}
}
