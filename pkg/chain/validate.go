package chain

import (
	"fmt"

	"github.com/penserai/acteon/pkg/acteon"
)

// ValidateConfig checks one ChainConfig's internal shape: non-empty step
// list, unique step names, branch targets that resolve to a real step,
// and the parallel-group constraints named in spec.md §4.L (no nested
// parallel, no sub-chain inside parallel, no branches on parallel
// sub-steps, no sub-step name colliding with a top-level step name).
func ValidateConfig(cfg acteon.ChainConfig) error {
	if len(cfg.Steps) == 0 {
		return fmt.Errorf("chain %q has no steps", cfg.Name)
	}

	names := make(map[string]bool, len(cfg.Steps))
	for _, s := range cfg.Steps {
		if names[s.Name] {
			return fmt.Errorf("chain %q: duplicate step name %q", cfg.Name, s.Name)
		}
		names[s.Name] = true
	}

	for _, s := range cfg.Steps {
		if s.Parallel != nil {
			if err := validateParallel(cfg.Name, s, names); err != nil {
				return err
			}
		}
		for _, b := range s.Branches {
			if b.Target != "" && !names[b.Target] {
				return fmt.Errorf("chain %q: step %q branch targets unknown step %q", cfg.Name, s.Name, b.Target)
			}
		}
		if s.DefaultNext != "" && !names[s.DefaultNext] {
			return fmt.Errorf("chain %q: step %q default_next targets unknown step %q", cfg.Name, s.Name, s.DefaultNext)
		}
	}
	return nil
}

func validateParallel(chainName string, s acteon.StepConfig, topLevelNames map[string]bool) error {
	pg := s.Parallel
	if pg.MaxConcurrency == 0 {
		return fmt.Errorf("chain %q: parallel step %q has max_concurrency == 0", chainName, s.Name)
	}
	sub := make(map[string]bool, len(pg.Steps))
	for _, ss := range pg.Steps {
		if ss.Parallel != nil {
			return fmt.Errorf("chain %q: parallel step %q nests another parallel group", chainName, s.Name)
		}
		if ss.SubChain != "" {
			return fmt.Errorf("chain %q: parallel step %q contains a sub-chain sub-step %q", chainName, s.Name, ss.Name)
		}
		if len(ss.Branches) > 0 {
			return fmt.Errorf("chain %q: parallel step %q sub-step %q declares branches", chainName, s.Name, ss.Name)
		}
		if sub[ss.Name] {
			return fmt.Errorf("chain %q: parallel step %q has duplicate sub-step name %q", chainName, s.Name, ss.Name)
		}
		sub[ss.Name] = true
		if topLevelNames[ss.Name] {
			return fmt.Errorf("chain %q: parallel step %q sub-step %q collides with a top-level step name", chainName, s.Name, ss.Name)
		}
	}
	return nil
}

// color markers for the sub-chain graph's DFS cycle check.
type color int

const (
	white color = iota
	gray
	black
)

// ValidateGraph checks that no chain's sub_chain references form a cycle
// across the whole config set, via DFS coloring (white/gray/black).
func ValidateGraph(configs map[string]acteon.ChainConfig) error {
	colors := make(map[string]color, len(configs))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch colors[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("sub-chain cycle detected: %v -> %s", path, name)
		}
		colors[name] = gray
		cfg, ok := configs[name]
		if ok {
			for _, s := range cfg.Steps {
				if s.SubChain == "" {
					continue
				}
				if err := visit(s.SubChain, append(path, name)); err != nil {
					return err
				}
			}
		}
		colors[name] = black
		return nil
	}
	for name := range configs {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}
