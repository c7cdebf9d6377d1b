package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept YAML configuration.
// The node holds the module's section from the "modules" map.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that open resources (databases,
// API clients) and register services once configured.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can check their configuration
// and provisioned resources. Validate must not mutate state.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules that run background work such as
// listeners or schedulers. Start runs after every module is provisioned.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules holding resources that need release.
// Stop is called in reverse start order.
type Stopper interface {
	Stop(ctx context.Context) error
}
