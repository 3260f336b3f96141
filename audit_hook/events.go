package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionEntityCreated      = "entity.created"
	ActionEntityLeased       = "entity.leased"
	ActionEntityTransitioned = "entity.transitioned"
	ActionEntityRetrying     = "entity.retrying"
	ActionEntityFailed       = "entity.failed"
	ActionEntityAbandoned    = "entity.abandoned"
)

// CategoryEntity groups every entity lifecycle action.
const CategoryEntity = "connector.entity"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionEntityCreated,
		ActionEntityLeased,
		ActionEntityTransitioned,
		ActionEntityRetrying,
		ActionEntityFailed,
		ActionEntityAbandoned,
	}
}
