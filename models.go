package authsession

import (
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// Provider-context field keys. Providers hand these over at login time; the
// store consumes them once to seed a new record.
const (
	FieldSubjectID = "subjectId"
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldPhone     = "phone"
)

// UserRecord is the persisted profile for an authenticated subject.
type UserRecord struct {
	bun.BaseModel `bun:"table:user_records,alias:rec"`
	ID            uuid.UUID         `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SubjectID     string            `bun:"subject_id,notnull,unique" json:"subject_id,omitempty"`
	FirstName     string            `bun:"first_name" json:"first_name,omitempty"`
	LastName      string            `bun:"last_name" json:"last_name,omitempty"`
	Phone         string            `bun:"phone_number" json:"phone_number,omitempty"`
	Metadata      map[string]string `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt     *time.Time        `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time        `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time        `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (r *UserRecord) AddMetadata(key, val string) *UserRecord {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = val
	return r
}

// Fields flattens the record back into the provider-context key space.
func (r *UserRecord) Fields() map[string]string {
	fields := map[string]string{
		FieldSubjectID: r.SubjectID,
	}
	if r.FirstName != "" {
		fields[FieldFirstName] = r.FirstName
	}
	if r.LastName != "" {
		fields[FieldLastName] = r.LastName
	}
	if r.Phone != "" {
		fields[FieldPhone] = r.Phone
	}
	for k, v := range r.Metadata {
		fields[k] = v
	}
	return fields
}

// SearchEntry is a search-index row pointing a lowercased name permutation at
// a subject. Each record is listed twice, once by first name and once by last
// name, with the subject id appended to guarantee uniqueness.
type SearchEntry struct {
	bun.BaseModel `bun:"table:search_index,alias:idx"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Key           string     `bun:"key,notnull,unique" json:"key,omitempty"`
	SubjectID     string     `bun:"subject_id,notnull" json:"subject_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// DefaultPhoneRegion is used to parse provider phone numbers that arrive
// without a country prefix.
var DefaultPhoneRegion = "US"

// normalizePhone formats a provider-supplied phone number as E.164. The raw
// value is kept when it cannot be parsed.
func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}

	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return raw
	}

	return phonenumbers.Format(num, phonenumbers.E164)
}
