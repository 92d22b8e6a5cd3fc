package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	AgentsAdded   []string
	AgentsRemoved []string
	AgentsChanged []string
	// AgentsReordered is set when the same agents appear in a different
	// order, which changes keyword-match tie-breaking.
	AgentsReordered bool

	RouterChanged bool
	NewRouter     RouterConfig

	CoordinatorChanged bool
	NewCoordinator     CoordinatorConfig

	BusChanged bool
	NewBus     BusConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.AgentsAdded) > 0 ||
		len(d.AgentsRemoved) > 0 ||
		len(d.AgentsChanged) > 0 ||
		d.AgentsReordered ||
		d.RouterChanged ||
		d.CoordinatorChanged ||
		d.BusChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	oldAgents := indexAgents(old.Agents)
	newAgents := indexAgents(new.Agents)

	for _, a := range new.Agents {
		if _, ok := oldAgents[a.Name]; !ok {
			d.AgentsAdded = append(d.AgentsAdded, a.Name)
		}
	}
	for _, a := range old.Agents {
		if _, ok := newAgents[a.Name]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, a.Name)
		}
	}
	for _, a := range new.Agents {
		if prev, ok := oldAgents[a.Name]; ok && !reflect.DeepEqual(prev, a) {
			d.AgentsChanged = append(d.AgentsChanged, a.Name)
		}
	}
	if len(d.AgentsAdded) == 0 && len(d.AgentsRemoved) == 0 {
		for i := range new.Agents {
			if old.Agents[i].Name != new.Agents[i].Name {
				d.AgentsReordered = true
				break
			}
		}
	}

	if old.Router != new.Router {
		d.RouterChanged = true
		d.NewRouter = new.Router
	}
	if old.Coordinator != new.Coordinator {
		d.CoordinatorChanged = true
		d.NewCoordinator = new.Coordinator
	}
	if old.Bus != new.Bus {
		d.BusChanged = true
		d.NewBus = new.Bus
	}

	if old.LLM != new.LLM {
		d.NonReloadable = append(d.NonReloadable, "llm")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}

func indexAgents(defs []AgentDefinition) map[string]AgentDefinition {
	m := make(map[string]AgentDefinition, len(defs))
	for _, a := range defs {
		m[a.Name] = a
	}
	return m
}
