package output

import "github.com/ericogr/pulsestim/pkg/control"

type Output interface {
	Publish(control.Snapshot) error
	Close() error
}

// helper constructors are in subpackages
