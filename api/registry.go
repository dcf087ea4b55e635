package api

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/earth2dfm/dfm/dfmerror"
)

// callRegistry maps api_class discriminators to call prototypes. Variants
// register themselves in init functions; decoding resolves the discriminator
// here.
var callRegistry = struct {
	sync.RWMutex
	factories map[string]func() Call
}{factories: make(map[string]func() Call)}

// Register binds an api_class discriminator to a factory producing an empty
// call of the concrete type. It panics on duplicate registration, which is a
// packaging error.
func Register(apiClass string, factory func() Call) {
	callRegistry.Lock()
	defer callRegistry.Unlock()
	if _, ok := callRegistry.factories[apiClass]; ok {
		panic(fmt.Sprintf("api: duplicate registration for %q", apiClass))
	}
	callRegistry.factories[apiClass] = factory
}

// NewCall instantiates an empty call for the given discriminator.
func NewCall(apiClass string) (Call, error) {
	callRegistry.RLock()
	factory, ok := callRegistry.factories[apiClass]
	callRegistry.RUnlock()
	if !ok {
		return nil, dfmerror.Data("unknown api_class %q", apiClass)
	}
	return factory(), nil
}

// DecodeCall materializes a concrete call from its JSON form using the
// api_class discriminator.
func DecodeCall(raw []byte) (Call, error) {
	var head struct {
		APIClass string `json:"api_class"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("decode call header"), err)
	}
	if head.APIClass == "" {
		return nil, dfmerror.Data("call is missing api_class")
	}
	call, err := NewCall(head.APIClass)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, call); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("decode %s", head.APIClass), err)
	}
	call.Meta().APIClass = head.APIClass
	return call, nil
}

// MarshalCall serializes a call, stamping the discriminator and identifier
// first so the wire form is always complete.
func MarshalCall(c Call) ([]byte, error) {
	Normalize(c)
	return json.Marshal(c)
}
