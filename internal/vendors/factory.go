package vendors

import (
	"fmt"
	"sort"
)

var vendorRegistry = make(map[string]NewFunc)

// Register adds a new vendor constructor to the registry.
// This is typically called from the vendor's package init() function.
func Register(name string, newFunc NewFunc) {
	if _, exists := vendorRegistry[name]; exists {
		return
	}
	vendorRegistry[name] = newFunc
}

// Get returns the constructor for the vendor with the given name.
func Get(name string) (NewFunc, error) {
	newFunc, exists := vendorRegistry[name]
	if !exists {
		return nil, fmt.Errorf("no vendor registered with name: %s", name)
	}
	return newFunc, nil
}

// Names lists the registered vendors, sorted for stable output.
func Names() []string {
	names := make([]string, 0, len(vendorRegistry))
	for name := range vendorRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
