package cargo

// ResourceType names a server-managed resource provisioned through scripted
// configuration.
type ResourceType string

const (
	JMSServer            ResourceType = "jms.server"
	JMSModule            ResourceType = "jms.module"
	JMSSubdeployment     ResourceType = "jms.subdeployment"
	JMSConnectionFactory ResourceType = "jms.connectionfactory"
	JMSQueue             ResourceType = "jms.queue"
	DataSource           ResourceType = "datasource"
	MailSession          ResourceType = "mail.session"
)

// ResourceDescriptor describes a named external resource. References map a
// role name (a ResourceType) to the id of another descriptor in the same
// batch.
type ResourceDescriptor struct {
	ID         string            `json:"id" validate:"required"`
	Name       string            `json:"name"`
	Type       ResourceType      `json:"type" validate:"required"`
	Properties map[string]string `json:"properties"`
	References map[string]string `json:"references"`
}

// Principal is a user record of an authentication realm.
type Principal struct {
	Name     string   `json:"name" validate:"required"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}
