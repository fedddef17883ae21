// Package simplicitybridge runs the Simplicity compiler, shipped as a
// wasm-bindgen WebAssembly module, behind one request/response contract
// shared by several host shells.
//
// # Architecture Overview
//
//	simplicitybridge/    Root package with ABI names and memory interfaces
//	├── registry/        Locates the versioned module/glue pair on disk
//	├── payload/         Deterministic transport encoding of the pair
//	├── runtime/         wazero host context: instantiate, invoke, probe
//	├── session/         One-shot instantiation and serialized invocation
//	├── compiler/        Request/response model, invoker, result normalizer
//	├── host/            Adapter contract, pipeline, provider, metrics
//	│   ├── page/        Self-contained HTML page host
//	│   ├── widget/      Dashboard of widget sessions and a terminal widget
//	│   └── relay/       HTTP relay server and client
//	├── config/          Environment, YAML and flag configuration
//	├── wasm/            Core WASM binary inspection and writing
//	├── errors/          Structured error taxonomy
//	├── testbed/         Stand-in compiler modules for tests
//	└── cmd/simplicity/  CLI: compile, assets, page, widget, relay
//
// # Quick Start
//
//	reg := registry.New(os.DirFS("dist"), registry.Newest)
//	asset, err := reg.Locate()
//	if err != nil {
//	    log.Fatal(err) // errors.ErrAssetMissing, errors.ErrAssetAmbiguous
//	}
//	p, err := payload.Encode(asset.Binary, asset.Glue, asset.Version)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess := session.New(runtime.New(runtime.Config{}), p)
//	defer sess.Close(ctx)
//
//	pipe := host.NewPipeline(sess, compiler.NewNormalizer(simplicitybridge.ModeRelease))
//	res, err := pipe.Submit(ctx, compiler.Request{Source: src})
//
// # Errors
//
// Startup failures (missing or ambiguous assets, encoding and
// instantiation failures) abort session creation; hosts show them as
// "service unavailable". Per-call failures (invocation, witness
// validation, protocol violations) leave the session usable. A
// compiler-reported error is not a failure at all: it is a Result whose
// Error field is set.
package simplicitybridge
