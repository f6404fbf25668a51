package main

import (
	"log"

	"github.com/m3rciful/menubot/core/cmd"
)

func main() {
	if err := cmd.Run(cmd.Options{DefaultConfigPath: "configs/config.yaml"}); err != nil {
		log.Fatal(err)
	}
}
