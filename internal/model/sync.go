package model

import "time"

// Record is an untyped row as read from or written to the store.
type Record map[string]any

// ID returns the record's "id" column as a string, or "" if absent.
func (r Record) ID() string {
	return r.String("id")
}

// String returns the named column as a string, or "" if absent or not a string.
func (r Record) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Operation is the mutation kind of an outbox item.
type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// Push entity types.
const (
	EntityInspection = "inspection"
	EntityAnswer     = "answer"
	EntityFinding    = "finding"
	EntitySignature  = "signature"
	EntityJobStatus  = "job_status"
)

// Pull entity keys.
const (
	PullTemplates     = "templates"
	PullJobs          = "jobs"
	PullProperties    = "properties"
	PullClients       = "clients"
	PullInspections   = "inspections"
	PullDefectLibrary = "defect_library"
	PullServices      = "services"
)

// PullEntities lists every entity type Pull knows how to compute.
var PullEntities = []string{
	PullTemplates,
	PullJobs,
	PullProperties,
	PullClients,
	PullInspections,
	PullDefectLibrary,
	PullServices,
}

// OutboxItem is one pending local mutation queued by the mobile client.
type OutboxItem struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Operation  Operation      `json:"operation"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  string         `json:"created_at"`
}

// PushRequest is the body of POST /sync/push. Items is a pointer so a
// missing array can be told apart from an empty one.
type PushRequest struct {
	TenantID string        `json:"tenant_id"`
	Items    *[]OutboxItem `json:"items"`
}

// ItemResult reports the outcome of one outbox item.
type ItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PushResponse is the aggregated result of a push batch.
type PushResponse struct {
	Success   bool         `json:"success"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
	SyncedAt  time.Time    `json:"synced_at"`
}

// PullRequest carries the parsed query of GET /sync/pull.
type PullRequest struct {
	Business string
	Since    *time.Time
	Entities []string // nil means all
}

// PullResponse is the changes payload returned by Pull.
type PullResponse struct {
	Success  bool                `json:"success"`
	Changes  map[string][]Record `json:"changes"`
	SyncedAt time.Time           `json:"synced_at"`
}

// BootstrapTenant is the tenant block of a bootstrap snapshot.
type BootstrapTenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// BootstrapUser is the caller block of a bootstrap snapshot.
type BootstrapUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role"`
}

// BootstrapData is the full offline snapshot for a device.
type BootstrapData struct {
	Tenant        BootstrapTenant `json:"tenant"`
	User          BootstrapUser   `json:"user"`
	Templates     []Record        `json:"templates"`
	Jobs          []Record        `json:"jobs"`
	Properties    []Record        `json:"properties"`
	Clients       []Record        `json:"clients"`
	DefectLibrary []Record        `json:"defect_library"`
	Services      []Record        `json:"services"`
	Inspections   []Record        `json:"inspections"`
}

// BootstrapResponse wraps a bootstrap snapshot.
type BootstrapResponse struct {
	Success  bool          `json:"success"`
	Data     BootstrapData `json:"data"`
	SyncedAt time.Time     `json:"synced_at"`
}

// ErrorBody is the error envelope returned on any failed sync call.
type ErrorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail holds the client-facing message.
type ErrorDetail struct {
	Message string `json:"message"`
}
