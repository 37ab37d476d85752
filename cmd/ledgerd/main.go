package main

import (
	"log"

	"aqualedger/services/ledgerd"
)

func main() {
	if err := ledgerd.Main(); err != nil {
		log.Fatalf("ledgerd: %v", err)
	}
}
