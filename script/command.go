// Package script turns resource descriptors and deployment operations into
// ordered batches of named configuration commands for scripted containers.
// Each command names a script template by relative path and carries a flat
// property map; rendering and executing the templates is left to the engine
// that receives the batch.
package script

import (
	"path/filepath"
	"strings"

	"github.com/fluxsets/cargo"
)

// Command is one configuration operation.
type Command struct {
	Name       string            `json:"name"`
	Template   string            `json:"template"`
	Properties map[string]string `json:"properties"`
}

// Script is a batch of commands addressed to one server.
type Script struct {
	Target   string    `json:"target"`
	Commands []Command `json:"commands"`
}

const (
	TemplateDeployDeployable   = "deployment/deploy-deployable"
	TemplateUndeployDeployable = "deployment/undeploy-deployable"
	TemplateCreateUser         = "security/create-user"
	TemplateAddUserToGroup     = "security/add-user-to-group"
)

const (
	PropDeployableID      = "cargo.deployable.id"
	PropDeployablePath    = "cargo.deployable.path"
	PropDeployableContext = "cargo.deployable.context"
	PropDeployableType    = "cargo.deployable.type"
	PropUserName          = "cargo.user.name"
	PropUserPassword      = "cargo.user.password"
	PropUserGroup         = "cargo.user.group"
)

// DeployableID is the name a scripted server knows a deployable by: its
// context without slashes, or the archive name for the root context.
func DeployableID(d cargo.Deployable) string {
	if id := strings.ReplaceAll(strings.Trim(d.Context(), "/"), "/", "-"); id != "" {
		return id
	}
	base := filepath.Base(d.FilePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func DeployDeployable(d cargo.Deployable) Command {
	return Command{
		Name:     "deploy " + DeployableID(d),
		Template: TemplateDeployDeployable,
		Properties: map[string]string{
			PropDeployableID:      DeployableID(d),
			PropDeployablePath:    d.FilePath,
			PropDeployableContext: d.Context(),
			PropDeployableType:    string(d.Type),
		},
	}
}

func UndeployDeployable(deployableID string) Command {
	return Command{
		Name:     "undeploy " + deployableID,
		Template: TemplateUndeployDeployable,
		Properties: map[string]string{
			PropDeployableID: deployableID,
		},
	}
}

// Users returns the commands creating each principal and adding it to its
// roles as groups, principal by principal.
func Users(principals []cargo.Principal) []Command {
	var cmds []Command
	for _, p := range principals {
		cmds = append(cmds, Command{
			Name:     "create user " + p.Name,
			Template: TemplateCreateUser,
			Properties: map[string]string{
				PropUserName:     p.Name,
				PropUserPassword: p.Password,
			},
		})
		for _, role := range p.Roles {
			cmds = append(cmds, Command{
				Name:     "add " + p.Name + " to " + role,
				Template: TemplateAddUserToGroup,
				Properties: map[string]string{
					PropUserName:  p.Name,
					PropUserGroup: role,
				},
			})
		}
	}
	return cmds
}
