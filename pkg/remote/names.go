package remote

import (
	"fmt"
	"sync"
)

// bindings holds the names of all live protocol client bindings in the process.
var bindings = struct {
	sync.Mutex
	names map[string]struct{}
}{names: map[string]struct{}{}}

func claimName(name string) error {
	bindings.Lock()
	defer bindings.Unlock()

	if _, ok := bindings.names[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrNameInUse)
	}
	bindings.names[name] = struct{}{}
	return nil
}

func releaseName(name string) {
	bindings.Lock()
	delete(bindings.names, name)
	bindings.Unlock()
}
