// Package scope provides stack-discipline ownership for disposables.
//
// Guest handles are reference-counted by the engine; leaking one leaks
// engine memory and can pin the runtime. A Scope adopts disposables as
// they are created and releases them in reverse order when closed, on
// every exit path. Close is idempotent and a closed scope rejects new
// registrations.
package scope
