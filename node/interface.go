package node

// Component is anything the node starts and stops in order.
type Component interface {
	Start()
	Stop()
	Name() string
}
