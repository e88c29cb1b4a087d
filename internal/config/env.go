package config

import (
	"fmt"
	"maps"
	"strings"

	"github.com/gobwas/glob"
)

// compilePatterns compiles env_keep globs. Patterns match whole variable
// names, so "LC_*" keeps LC_ALL and LC_CTYPE.
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// FilterEnv keeps the KEY=VALUE entries of environ whose key matches any
// pattern.
func FilterEnv(environ []string, patterns []string) (map[string]string, error) {
	globs, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}

	kept := make(map[string]string)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		for _, g := range globs {
			if g.Match(k) {
				kept[k] = v
				break
			}
		}
	}
	return kept, nil
}

// ProcessEnv resolves the child environment from environ (normally
// os.Environ()). isolate reports that env is the whole environment rather
// than an overlay on the inherited one.
func (c *Config) ProcessEnv(environ []string) (env map[string]string, isolate bool, err error) {
	if len(c.EnvKeep) == 0 {
		if len(c.Env) == 0 {
			return nil, false, nil
		}
		return maps.Clone(c.Env), false, nil
	}

	env, err = FilterEnv(environ, c.EnvKeep)
	if err != nil {
		return nil, false, err
	}
	maps.Copy(env, c.Env)
	return env, true, nil
}

// ParseEnvPairs turns KEY=VALUE strings into a map.
func ParseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("env %q: want KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}
