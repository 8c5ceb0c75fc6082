// Package marshal converts values between the host and the guest
// interpreter.
//
// ToGuest walks a host value and builds the equivalent guest value,
// registering every created handle with a scope so teardown cannot leak
// engine references. Host futures become guest promises whose settlement
// rides the runtime's host job queue. Host functions are rejected;
// callables cross the boundary only through the module authoring
// contract, which binds names and disposal.
//
// ToHost is the inverse direction and delegates to the engine's
// structural dump; guest functions come back as the Opaque marker.
package marshal
