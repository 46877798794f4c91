package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "UPSTREAM_URL", typ: kString,
		apply: func(cfg *Config, v any) {
			cfg.Server.UpstreamURL = v.(string)
			cfg.Server.UpstreamExplicit = true
		},
	},
	{
		env: "START_EMBEDDED_CHILD", typ: kBool,
		apply: func(cfg *Config, v any) { cfg.Child.Embedded = v.(bool) },
	},
	{
		env: "CHILD_INTERNAL_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Child.InternalPort = v.(int) },
	},
	{
		env: "CHILD_BIN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Child.Bin = v.(string) },
	},
	{
		env: "CHILD_ARGS", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Child.Args = splitArgs(v.(string)) },
	},
	{
		env: "PROJECT_ROOT", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Child.ProjectRoot = v.(string) },
	},
	{
		env: "OUTPUTS_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Outputs.Dir = v.(string) },
	},
	{
		env: "LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) error {
	for _, spec := range specs {
		raw, ok := os.LookupEnv(spec.env)
		if !ok || raw == "" {
			continue
		}
		switch spec.typ {
		case kString:
			spec.apply(cfg, raw)
		case kInt:
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("parsing %s=%q: %w", spec.env, raw, err)
			}
			spec.apply(cfg, v)
		case kBool:
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("parsing %s=%q: %w", spec.env, raw, err)
			}
			spec.apply(cfg, v)
		}
	}
	return nil
}
