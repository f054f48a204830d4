package gpu

// Describes a GPU adapter exposed by the platform.
type AdapterInfo struct {
	Name string
	Type string
}
