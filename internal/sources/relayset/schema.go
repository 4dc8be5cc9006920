package relayset

// Sets is the top-level structure of relays.yaml
type Sets struct {
	// Bootstrap relays answer relay-list lookups and are used when a user has none
	Bootstrap []string `yaml:"bootstrap"`
	// Fallback relays are connected when a fetch finds nothing connected
	Fallback []string `yaml:"fallback"`
	// Public relays are asked for note contents the user's relays do not have
	Public []string `yaml:"public"`
}

// Defaults are used for any set left empty by the file and the environment.
func Defaults() Sets {
	return Sets{
		Bootstrap: []string{"wss://purplepag.es", "wss://relay.nostr.band", "wss://relay.damus.io"},
		Fallback:  []string{"wss://relay.damus.io", "wss://nos.lol", "wss://relay.primal.net"},
		Public:    []string{"wss://relay.nostr.band", "wss://nos.lol", "wss://relay.damus.io"},
	}
}

// Merge fills every empty set of s from def.
func (s Sets) Merge(def Sets) Sets {
	if len(s.Bootstrap) == 0 {
		s.Bootstrap = def.Bootstrap
	}
	if len(s.Fallback) == 0 {
		s.Fallback = def.Fallback
	}
	if len(s.Public) == 0 {
		s.Public = def.Public
	}
	return s
}
