// Command toser runs terms-of-service assessments from the shell.
package main

import (
	"os"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
