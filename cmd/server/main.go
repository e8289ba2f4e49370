package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	path, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Send()
	}

	if err := root(path).Execute(); err != nil {
		log.Fatal().Err(err).Send()
	}
}
