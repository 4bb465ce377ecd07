package memutils

// Validatable is anything that can check its own internal consistency. Heaps and free lists implement
// it so DebugValidate can run their checks in debug builds.
type Validatable interface {
	Validate() error
}
