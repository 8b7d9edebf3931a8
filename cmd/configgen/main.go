package main

import (
	"flag"
	"log"

	"github.com/danmuck/bluetrace/internal/config"
)

func main() {
	kind := flag.String("kind", "tracer", "config kind: tracer|test")
	output := flag.String("output", "cmd/tracectl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/tracectl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.LoadTracerConfig(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated tracer config at %s", *input)
		return
	}

	if _, err := config.Template(*kind); err != nil {
		log.Fatal(err)
	}
	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
