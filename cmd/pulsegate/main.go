package main

import (
	"log"

	"github.com/pulsegate/pulsegate/core/gateway"
	"github.com/pulsegate/pulsegate/core/infra/buildinfo"
	"github.com/pulsegate/pulsegate/core/infra/config"
)

func main() {
	log.Println("pulsegate gateway starting...")
	buildinfo.Log("pulsegate")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
