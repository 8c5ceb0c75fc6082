package quickjs

// Export names of the embedded QuickJS reactor binary.
//
// The engine is a core wasm module built in reactor mode: it exports
// re-entrant functions instead of blocking in _start, and the host drives
// execution through them. Values are heap-boxed JSValue pointers in guest
// linear memory; 0 is the invalid/exception sentinel.
const (
	// Memory management for host-written data (code strings, keys).
	expMalloc = "malloc"
	expFree   = "free"

	// Runtime and context lifecycle.
	expRuntimeNew  = "qjs_runtime_new"
	expRuntimeFree = "qjs_runtime_free"
	expContextNew  = "qjs_context_new"
	expContextFree = "qjs_context_free"
	expGetGlobal   = "qjs_get_global"

	// Value constructors.
	expUndefined  = "qjs_undefined"
	expNull       = "qjs_null"
	expNewBool    = "qjs_new_bool"
	expNewNumber  = "qjs_new_number"
	expNewString  = "qjs_new_string"
	expNewArray   = "qjs_new_array"
	expNewObject  = "qjs_new_object"
	expNewError   = "qjs_new_error"
	expNewFunc    = "qjs_new_function"
	expNewPromise = "qjs_new_promise"

	// Property operations.
	expGetProp    = "qjs_get_prop"
	expGetIndex   = "qjs_get_index"
	expSetProp    = "qjs_set_prop"
	expSetIndex   = "qjs_set_index"
	expDefineProp = "qjs_define_prop"
	expOwnKeys    = "qjs_own_keys"

	// Inspection and conversion.
	expTypeOf      = "qjs_typeof"
	expIsArray     = "qjs_is_array"
	expIsError     = "qjs_is_error"
	expToBool      = "qjs_to_bool"
	expToFloat64   = "qjs_to_float64"
	expToCString   = "qjs_to_cstring"
	expFreeCString = "qjs_free_cstring"

	// Reference counting.
	expDupValue  = "qjs_dup"
	expFreeValue = "qjs_free_value"

	// Execution.
	expEval         = "qjs_eval"
	expCall         = "qjs_call"
	expThrow        = "qjs_throw"
	expHasException = "qjs_has_exception"
	expGetException = "qjs_get_exception"
	expPendingJob   = "qjs_execute_pending_job"
	expRuntimeExc   = "qjs_runtime_exception"
	expSetLoader    = "qjs_set_module_loader"
)

// hostModule is the import namespace the engine binary expects host
// functions under.
const hostModule = "cage"

const (
	// impHostCall dispatches a guest call on a host-installed function:
	// host_call(ctx, func_id, this, argc, argv) -> value.
	impHostCall = "host_call"

	// impModuleNormalize resolves an import specifier against a base:
	// host_module_normalize(rt, base, base_len, name, name_len, out_len) -> ptr.
	impModuleNormalize = "host_module_normalize"

	// impModuleLoad fetches module source text:
	// host_module_load(rt, spec, spec_len, out_len) -> ptr.
	impModuleLoad = "host_module_load"
)

// qjs_typeof result values.
const (
	typeTagUndefined = 0
	typeTagNull      = 1
	typeTagBool      = 2
	typeTagNumber    = 3
	typeTagString    = 4
	typeTagObject    = 5
	typeTagFunction  = 6
)

// Eval mode flags.
const (
	evalFlagScript = 0
	evalFlagModule = 1
)

// qjs_execute_pending_job results.
const (
	jobExecuted = 1
	jobNone     = 0
	jobError    = -1
)
