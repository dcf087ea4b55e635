package dfmops

import (
	"github.com/earth2dfm/dfm/api"
	apidfm "github.com/earth2dfm/dfm/api/dfmops"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute"
	"github.com/earth2dfm/dfm/execute/adapter"
	"github.com/earth2dfm/dfm/request"
)

func init() {
	execute.RegisterProvider(config.ProviderClassDfm, NewDfmProvider)
	execute.RegisterProvider(config.ProviderClassFile, NewFileProvider)

	execute.RegisterAdapter(config.AdapterClassGreetMe, newGreetMe)
	execute.RegisterAdapter(AdapterClassConstant, newConstant)
	execute.RegisterAdapter(AdapterClassZip2, newZip2)
	execute.RegisterAdapter(AdapterClassSignalAllDone, newSignalAllDone)
	execute.RegisterAdapter(AdapterClassSignalClient, newSignalClient)
	execute.RegisterAdapter(AdapterClassPushResponse, newPushResponse)
	execute.RegisterAdapter(AdapterClassSendMessage, newSendMessage)
	execute.RegisterAdapter(AdapterClassReceiveMessage, newReceiveMessage)
	execute.RegisterAdapter(AdapterClassAwaitMessage, newAwaitMessage)
	execute.RegisterAdapter(AdapterClassExecute, newExecute)
	execute.RegisterAdapter(AdapterClassListTextureFiles, newListTextureFiles)
}

// base wires the shared adapter state from the provider's substrate.
func base(req *request.Request, p execute.Provider, call api.Call, inputs adapter.Inputs) adapter.Base {
	return adapter.NewBase(req, call, inputs, p.CacheBackend(), nil)
}

func newGreetMe(req *request.Request, p execute.Provider, cfg config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.GreetMe)
	if !ok {
		return nil, dfmerror.Server("GreetMe adapter bound to %s", call.Class())
	}
	greetCfg, _ := cfg.(*config.GreetMeConfig)
	return &greetMeAdapter{Base: base(req, p, call, inputs), call: c, cfg: greetCfg}, nil
}

func newConstant(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.Constant)
	if !ok {
		return nil, dfmerror.Server("Constant adapter bound to %s", call.Class())
	}
	return &constantAdapter{Base: base(req, p, call, inputs), call: c}, nil
}

func newZip2(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	if _, ok := call.(*apidfm.Zip2); !ok {
		return nil, dfmerror.Server("Zip2 adapter bound to %s", call.Class())
	}
	return &zip2Adapter{Base: base(req, p, call, inputs)}, nil
}

func newSignalAllDone(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.SignalAllDone)
	if !ok {
		return nil, dfmerror.Server("SignalAllDone adapter bound to %s", call.Class())
	}
	return &signalAllDoneAdapter{Base: base(req, p, call, inputs), call: c}, nil
}

func newSignalClient(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	if _, ok := call.(*apidfm.SignalClient); !ok {
		return nil, dfmerror.Server("SignalClient adapter bound to %s", call.Class())
	}
	return &signalClientAdapter{Base: base(req, p, call, inputs)}, nil
}

func newPushResponse(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.PushResponse)
	if !ok {
		return nil, dfmerror.Server("PushResponse adapter bound to %s", call.Class())
	}
	return &pushResponseAdapter{Base: base(req, p, call, inputs), call: c}, nil
}

func newSendMessage(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.SendMessage)
	if !ok {
		return nil, dfmerror.Server("SendMessage adapter bound to %s", call.Class())
	}
	return &sendMessageAdapter{Base: base(req, p, call, inputs), call: c}, nil
}

func newReceiveMessage(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.ReceiveMessage)
	if !ok {
		return nil, dfmerror.Server("ReceiveMessage adapter bound to %s", call.Class())
	}
	return &receiveMessageAdapter{Base: base(req, p, call, inputs), call: c}, nil
}

func newAwaitMessage(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.AwaitMessage)
	if !ok {
		return nil, dfmerror.Server("AwaitMessage adapter bound to %s", call.Class())
	}
	return &awaitMessageAdapter{Base: base(req, p, call, inputs), call: c}, nil
}

func newExecute(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*api.Execute)
	if !ok {
		return nil, dfmerror.Server("Execute adapter bound to %s", call.Class())
	}
	return &executeAdapter{Base: base(req, p, call, inputs), call: c}, nil
}

func newListTextureFiles(req *request.Request, p execute.Provider, _ config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	c, ok := call.(*apidfm.ListTextureFiles)
	if !ok {
		return nil, dfmerror.Server("ListTextureFiles adapter bound to %s", call.Class())
	}
	fp, ok := p.(*FileProvider)
	if !ok {
		return nil, dfmerror.Server("ListTextureFiles requires a file provider, got %s", p.Class())
	}
	return &listTextureFilesAdapter{Base: base(req, p, call, inputs), call: c, provider: fp}, nil
}
