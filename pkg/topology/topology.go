// Package topology builds the static CPU / core / package mappings the
// scheduler consults on every placement decision.
//
// The hardware enumeration hands over a tree with package nodes at the
// top, core nodes below them and one leaf per SMT sibling (logical
// CPU). Build flattens that tree into dense index arrays; the tree
// itself is discarded afterwards.
package topology

import "fmt"

// Level identifies the depth of a Node in the topology tree.
type Level int

const (
	// LevelRoot is the synthetic root of the enumeration tree.
	LevelRoot Level = iota
	// LevelPackage is a socket sharing a last-level cache.
	LevelPackage
	// LevelCore is a physical core.
	LevelCore
	// LevelSMT is a logical CPU (hardware thread).
	LevelSMT
)

// Node is one element of the device-provided topology tree. The ID of
// a LevelSMT node is the logical CPU number; package and core IDs are
// only required to be unique among siblings.
type Node struct {
	Level    Level
	ID       int32
	Children []*Node
}

// Map is the flattened topology. Core and package indices are dense,
// assigned in traversal order.
type Map struct {
	cpuToCore    []int32
	cpuToPackage []int32

	cpuCountPerCore []int32
	coreToPackage   []int32

	coreCount    int32
	packageCount int32
}

// Build flattens a topology tree covering cpuCount logical CPUs.
func Build(root *Node, cpuCount int32) (*Map, error) {
	if cpuCount <= 0 {
		return nil, fmt.Errorf("topology: invalid CPU count %d", cpuCount)
	}
	if root == nil {
		return nil, fmt.Errorf("topology: nil topology tree")
	}

	m := &Map{
		cpuToCore:    make([]int32, cpuCount),
		cpuToPackage: make([]int32, cpuCount),
	}
	for i := range m.cpuToCore {
		m.cpuToCore[i] = -1
		m.cpuToPackage[i] = -1
	}

	if err := m.traverse(root, -1, -1); err != nil {
		return nil, err
	}

	for cpu, core := range m.cpuToCore {
		if core < 0 {
			return nil, fmt.Errorf("topology: CPU %d missing from topology tree", cpu)
		}
	}
	return m, nil
}

func (m *Map) traverse(node *Node, packageID, coreID int32) error {
	switch node.Level {
	case LevelSMT:
		if packageID < 0 || coreID < 0 {
			return fmt.Errorf("topology: CPU %d outside a package/core", node.ID)
		}
		if node.ID < 0 || int(node.ID) >= len(m.cpuToCore) {
			return fmt.Errorf("topology: CPU id %d out of range", node.ID)
		}
		if m.cpuToCore[node.ID] != -1 {
			return fmt.Errorf("topology: CPU %d enumerated twice", node.ID)
		}
		m.cpuToCore[node.ID] = coreID
		m.cpuToPackage[node.ID] = packageID
		m.cpuCountPerCore[coreID]++
		return nil

	case LevelCore:
		if packageID < 0 {
			return fmt.Errorf("topology: core %d outside a package", node.ID)
		}
		coreID = m.coreCount
		m.coreCount++
		m.cpuCountPerCore = append(m.cpuCountPerCore, 0)
		m.coreToPackage = append(m.coreToPackage, packageID)

	case LevelPackage:
		packageID = m.packageCount
		m.packageCount++

	case LevelRoot:
		// descend
	}

	for _, child := range node.Children {
		if err := m.traverse(child, packageID, coreID); err != nil {
			return err
		}
	}
	return nil
}

// NewUniform builds the topology tree of a symmetric machine:
// packages sockets, each with coresPerPackage cores of smtPerCore
// logical CPUs. CPU numbers are assigned in enumeration order.
func NewUniform(packages, coresPerPackage, smtPerCore int32) *Node {
	root := &Node{Level: LevelRoot}

	cpu := int32(0)
	for p := int32(0); p < packages; p++ {
		packageNode := &Node{Level: LevelPackage, ID: p}
		for c := int32(0); c < coresPerPackage; c++ {
			coreNode := &Node{Level: LevelCore, ID: c}
			for s := int32(0); s < smtPerCore; s++ {
				coreNode.Children = append(coreNode.Children,
					&Node{Level: LevelSMT, ID: cpu})
				cpu++
			}
			packageNode.Children = append(packageNode.Children, coreNode)
		}
		root.Children = append(root.Children, packageNode)
	}
	return root
}

// CPUCount returns the number of logical CPUs.
func (m *Map) CPUCount() int32 {
	return int32(len(m.cpuToCore))
}

// CoreCount returns the number of physical cores.
func (m *Map) CoreCount() int32 {
	return m.coreCount
}

// PackageCount returns the number of packages.
func (m *Map) PackageCount() int32 {
	return m.packageCount
}

// CoreOf returns the dense core index of a logical CPU.
func (m *Map) CoreOf(cpu int32) int32 {
	return m.cpuToCore[cpu]
}

// PackageOf returns the dense package index of a logical CPU.
func (m *Map) PackageOf(cpu int32) int32 {
	return m.cpuToPackage[cpu]
}

// PackageOfCore returns the dense package index of a core.
func (m *Map) PackageOfCore(core int32) int32 {
	return m.coreToPackage[core]
}

// CPUsPerCore returns the number of logical CPUs on a core.
func (m *Map) CPUsPerCore(core int32) int32 {
	return m.cpuCountPerCore[core]
}

// SingleCore reports whether the machine has exactly one core.
func (m *Map) SingleCore() bool {
	return m.coreCount == 1
}
