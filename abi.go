package simplicitybridge

// Exports the compiled module is expected to provide. Names follow the
// wasm-bindgen conventions used by the glue code.
const (
	ExportMemory             = "memory"
	ExportCompile            = "compile_simplicity"
	ExportCompileWithWitness = "compile_with_witness"
	ExportMalloc             = "__wbindgen_malloc"
	ExportFree               = "__wbindgen_free"
	ExportStackPointer       = "__wbindgen_add_to_stack_pointer"
	ExportInitialize         = "_initialize"
	ExportStart              = "__wbindgen_start"
)

// Import modules the runtime knows how to satisfy.
const (
	ImportBindgen            = "wbg"
	ImportBindgenPlaceholder = "__wbindgen_placeholder__"
	ImportWASI               = "wasi_snapshot_preview1"
)

// Response field names in the module's JSON output.
const (
	FieldCMR        = "cmr"
	FieldError      = "error"
	FieldWitness    = "witness"
	FieldCodeBase64 = "code_base64"
)

// DefaultSource is the template program shown by the page and widget hosts.
const DefaultSource = "mod param {}\nfn main() {}"

// Mode values reported in result metadata.
const (
	ModeRelease = "release"
	ModeDebug   = "debug"
)

// Memory is the guest linear memory as seen by the host
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	Size() uint32
}

// Allocator allocates memory in guest linear memory
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}
