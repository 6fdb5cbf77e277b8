package main

import (
	"log"

	"github.com/rfvalente/morada/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalf("moradad: %v", err)
	}
}
