package main

import (
	"flag"

	"github.com/danmuck/edgemq/internal/config"
	"github.com/danmuck/edgemq/internal/logging"
	"github.com/rs/zerolog/log"
)

const defaultPath = "edgemq.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for the connection config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		cfg, err := config.LoadFile(*input)
		if err != nil {
			log.Fatal().Err(err).Str("path", *input).Msg("config invalid")
		}
		log.Info().
			Str("path", *input).
			Uint32("frame_max", cfg.FrameMax).
			Dur("heartbeat", cfg.Heartbeat).
			Str("work_pool", cfg.WorkPool).
			Msg("config valid")
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal().Err(err).Msg("write config template")
	}
	log.Info().Str("path", *output).Msg("wrote connection config template")
}
