package script

import (
	"fmt"
	"maps"
	"slices"

	"github.com/fluxsets/cargo"
)

const (
	PropResourceID   = "cargo.resource.id"
	PropResourceName = "cargo.resource.name"
	PropResourceType = "cargo.resource.type"
)

// resourceKind describes how one resource type becomes a command: the
// template it renders and the roles it must reference.
type resourceKind struct {
	template string
	requires []cargo.ResourceType
}

var resourceKinds = map[cargo.ResourceType]resourceKind{
	cargo.JMSServer: {
		template: "resource/jms-server",
	},
	cargo.JMSModule: {
		template: "resource/jms-module",
	},
	cargo.JMSSubdeployment: {
		template: "resource/jms-subdeployment",
		requires: []cargo.ResourceType{cargo.JMSModule, cargo.JMSServer},
	},
	cargo.JMSConnectionFactory: {
		template: "resource/jms-connection-factory",
		requires: []cargo.ResourceType{cargo.JMSModule, cargo.JMSSubdeployment},
	},
	cargo.JMSQueue: {
		template: "resource/jms-queue",
		requires: []cargo.ResourceType{cargo.JMSModule, cargo.JMSSubdeployment},
	},
	cargo.DataSource: {
		template: "resource/datasource",
	},
	cargo.MailSession: {
		template: "resource/mail-session",
	},
}

// ReferenceProperty is the property carrying the id of the resource
// referenced under role, e.g. "cargo.resource.jms.module.id".
func ReferenceProperty(role string) string {
	return "cargo.resource." + role + ".id"
}

// Builder assembles the commands of one configuration batch.
type Builder struct {
	batch []cargo.ResourceDescriptor
	byID  map[string]cargo.ResourceDescriptor
}

func NewBuilder(batch []cargo.ResourceDescriptor) *Builder {
	byID := make(map[string]cargo.ResourceDescriptor, len(batch))
	for _, r := range batch {
		byID[r.ID] = r
	}
	return &Builder{batch: batch, byID: byID}
}

// Build is shorthand for NewBuilder(batch).Build().
func Build(batch []cargo.ResourceDescriptor) ([]Command, error) {
	return NewBuilder(batch).Build()
}

// Build returns one command per resource in declaration order. If any
// reference does not resolve, or a resource type is unknown, the whole batch
// is rejected and no command is returned.
func (b *Builder) Build() ([]Command, error) {
	cmds := make([]Command, 0, len(b.batch))
	for _, r := range b.batch {
		cmd, err := b.command(r)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (b *Builder) command(r cargo.ResourceDescriptor) (Command, error) {
	kind, ok := resourceKinds[r.Type]
	if !ok {
		return Command{}, fmt.Errorf("%w: resource %s has unknown type %q", cargo.ErrConfiguration, r.ID, r.Type)
	}

	props := make(map[string]string, len(r.Properties)+3+len(kind.requires))
	maps.Copy(props, r.Properties)
	props[PropResourceID] = r.ID
	props[PropResourceName] = r.Name
	props[PropResourceType] = string(r.Type)

	for _, role := range kind.requires {
		ref, err := b.resolve(r, string(role))
		if err != nil {
			return Command{}, err
		}
		props[ReferenceProperty(string(role))] = ref.ID
	}
	// Explicit references beyond the required roles must resolve too.
	for _, role := range slices.Sorted(maps.Keys(r.References)) {
		if slices.Contains(kind.requires, cargo.ResourceType(role)) {
			continue
		}
		ref, err := b.resolve(r, role)
		if err != nil {
			return Command{}, err
		}
		props[ReferenceProperty(role)] = ref.ID
	}

	return Command{
		Name:       string(r.Type) + " " + r.ID,
		Template:   kind.template,
		Properties: props,
	}, nil
}

// resolve finds the descriptor r refers to under role. An explicit reference
// must name a descriptor of the batch whose type matches a known role;
// without one the first descriptor of the role's type is used.
func (b *Builder) resolve(r cargo.ResourceDescriptor, role string) (cargo.ResourceDescriptor, error) {
	if id, ok := r.References[role]; ok {
		ref, found := b.byID[id]
		if !found || (isResourceType(role) && ref.Type != cargo.ResourceType(role)) {
			return cargo.ResourceDescriptor{}, fmt.Errorf("%w: resource %s references %s %q which is not in the batch",
				cargo.ErrUnresolvedReference, r.ID, role, id)
		}
		return ref, nil
	}
	for _, cand := range b.batch {
		if cand.Type == cargo.ResourceType(role) {
			return cand, nil
		}
	}
	return cargo.ResourceDescriptor{}, fmt.Errorf("%w: resource %s needs a %s but the batch has none",
		cargo.ErrUnresolvedReference, r.ID, role)
}

func isResourceType(role string) bool {
	_, ok := resourceKinds[cargo.ResourceType(role)]
	return ok
}
